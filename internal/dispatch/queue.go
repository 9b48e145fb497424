// Package dispatch orders delivery requests for carriers and coordinates
// assignment, launch and lifecycle transitions.
package dispatch

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/bloodlift/bloodlift/internal/delivery"
)

// Rule compares two requests for dispatch order. A negative result puts a
// first, positive puts b first, zero defers to the next rule.
type Rule func(a, b *delivery.Request) int

// PlannedBeforeUnplanned puts requests with a planned date ahead of those
// without one.
func PlannedBeforeUnplanned(a, b *delivery.Request) int {
	switch {
	case a.PlannedDate != nil && b.PlannedDate == nil:
		return -1
	case a.PlannedDate == nil && b.PlannedDate != nil:
		return 1
	default:
		return 0
	}
}

// EarlierPlannedDay orders planned requests by calendar day in loc. Times
// on the same local day compare equal.
func EarlierPlannedDay(loc *time.Location) Rule {
	return func(a, b *delivery.Request) int {
		if a.PlannedDate == nil || b.PlannedDate == nil {
			return 0
		}
		return cmp.Compare(dayKey(*a.PlannedDate, loc), dayKey(*b.PlannedDate, loc))
	}
}

// UrgentFirst puts urgent requests ahead of routine ones.
func UrgentFirst(a, b *delivery.Request) int {
	switch {
	case a.Urgent && !b.Urgent:
		return -1
	case !a.Urgent && b.Urgent:
		return 1
	default:
		return 0
	}
}

// LowerIDFirst breaks remaining ties by ascending request id.
func LowerIDFirst(a, b *delivery.Request) int {
	return strings.Compare(a.ID, b.ID)
}

// Comparator chains the dispatch rules into a total order.
func Comparator(loc *time.Location) func(a, b *delivery.Request) int {
	rules := []Rule{
		PlannedBeforeUnplanned,
		EarlierPlannedDay(loc),
		UrgentFirst,
		LowerIDFirst,
	}
	return func(a, b *delivery.Request) int {
		for _, rule := range rules {
			if c := rule(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}

// Order returns reqs in dispatch order. now supplies the local calendar
// used for planned dates. The input slice and its requests are not modified.
// Callers pass only pending or assigned requests.
func Order(reqs []*delivery.Request, now time.Time) []*delivery.Request {
	out := slices.Clone(reqs)
	if out == nil {
		out = []*delivery.Request{}
	}
	slices.SortFunc(out, Comparator(now.Location()))
	return out
}

func dayKey(t time.Time, loc *time.Location) int {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

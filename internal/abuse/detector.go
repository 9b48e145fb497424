// Package abuse flags facilities that mark a disproportionate share of
// their delivery requests as urgent. It is a monitoring signal only and
// never gates dispatch.
package abuse

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/bloodlift/bloodlift/internal/delivery"
)

// Default thresholds.
const (
	DefaultUrgentPercentThreshold = 50.0
	DefaultMinDeliveries          = 10
)

// Config holds detector thresholds. Zero fields take the defaults.
type Config struct {
	// UrgentPercentThreshold is the urgent share, in percent, that must be
	// exceeded to flag a facility.
	UrgentPercentThreshold float64 `koanf:"urgent_percent_threshold"`

	// MinDeliveries is the history size below which no facility is flagged.
	MinDeliveries int `koanf:"min_deliveries"`
}

// FacilityUrgencyStats summarises one facility's urgency usage.
type FacilityUrgencyStats struct {
	FacilityID       string  `json:"facilityId"`
	Total            int     `json:"total"`
	Urgent           int     `json:"urgent"`
	UrgentPercentage float64 `json:"urgentPercentage"`
	Flagged          bool    `json:"flagged"`
}

// Detector computes urgency statistics.
type Detector struct {
	threshold     float64
	minDeliveries int
}

// NewDetector creates a detector.
func NewDetector(cfg Config) *Detector {
	threshold := cfg.UrgentPercentThreshold
	if threshold <= 0 {
		threshold = DefaultUrgentPercentThreshold
	}
	minDeliveries := cfg.MinDeliveries
	if minDeliveries <= 0 {
		minDeliveries = DefaultMinDeliveries
	}
	return &Detector{threshold: threshold, minDeliveries: minDeliveries}
}

// Compute derives the stats for facilityID from its complete history.
// Every request in history counts regardless of status.
func (d *Detector) Compute(facilityID string, history []*delivery.Request) FacilityUrgencyStats {
	stats := FacilityUrgencyStats{FacilityID: facilityID, Total: len(history)}
	for _, r := range history {
		if r.Urgent {
			stats.Urgent++
		}
	}
	d.finish(&stats)
	return stats
}

// Report groups history by requesting facility (the destination hospital)
// and returns stats ordered flagged first, then by descending urgent
// percentage, then by facility id.
func (d *Detector) Report(history []*delivery.Request) []FacilityUrgencyStats {
	byFacility := make(map[string]*FacilityUrgencyStats)
	for _, r := range history {
		s, ok := byFacility[r.DestinationFacilityID]
		if !ok {
			s = &FacilityUrgencyStats{FacilityID: r.DestinationFacilityID}
			byFacility[r.DestinationFacilityID] = s
		}
		s.Total++
		if r.Urgent {
			s.Urgent++
		}
	}

	out := make([]FacilityUrgencyStats, 0, len(byFacility))
	for _, s := range byFacility {
		d.finish(s)
		out = append(out, *s)
	}

	slices.SortFunc(out, func(a, b FacilityUrgencyStats) int {
		if a.Flagged != b.Flagged {
			if a.Flagged {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.UrgentPercentage, a.UrgentPercentage); c != 0 {
			return c
		}
		return strings.Compare(a.FacilityID, b.FacilityID)
	})
	return out
}

// Flagged returns only the flagged entries of a report.
func Flagged(report []FacilityUrgencyStats) []FacilityUrgencyStats {
	out := make([]FacilityUrgencyStats, 0)
	for _, s := range report {
		if s.Flagged {
			out = append(out, s)
		}
	}
	return out
}

func (d *Detector) finish(s *FacilityUrgencyStats) {
	var pct float64
	if s.Total > 0 {
		pct = float64(s.Urgent) / float64(s.Total) * 100
	}
	s.Flagged = pct > d.threshold && s.Total >= d.minDeliveries
	s.UrgentPercentage = round2(pct)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

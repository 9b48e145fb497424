package delivery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bloodlift/bloodlift/internal/delivery"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to delivery.Status
		want     bool
	}{
		{delivery.StatusPending, delivery.StatusAssigned, true},
		{delivery.StatusPending, delivery.StatusCancelled, true},
		{delivery.StatusPending, delivery.StatusInTransit, false},
		{delivery.StatusAssigned, delivery.StatusInTransit, true},
		{delivery.StatusAssigned, delivery.StatusCancelled, true},
		{delivery.StatusAssigned, delivery.StatusDelivered, false},
		{delivery.StatusInTransit, delivery.StatusDelivered, true},
		{delivery.StatusInTransit, delivery.StatusCancelled, false},
		{delivery.StatusDelivered, delivery.StatusCancelled, false},
		{delivery.StatusCancelled, delivery.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, delivery.StatusDelivered.Terminal())
	assert.True(t, delivery.StatusCancelled.Terminal())
	assert.False(t, delivery.StatusAssigned.Terminal())

	assert.True(t, delivery.StatusAssigned.Active())
	assert.True(t, delivery.StatusInTransit.Active())
	assert.False(t, delivery.StatusPending.Active())

	assert.True(t, delivery.StatusPending.Valid())
	assert.False(t, delivery.Status("lost").Valid())
}

func TestRequest_Clone(t *testing.T) {
	carrier := "drone-1"
	planned := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	r := &delivery.Request{ID: "d1", CarrierID: &carrier, PlannedDate: &planned}

	cpy := r.Clone()
	*cpy.CarrierID = "drone-2"
	*cpy.PlannedDate = planned.AddDate(0, 0, 1)

	assert.Equal(t, "drone-1", *r.CarrierID)
	assert.Equal(t, planned, *r.PlannedDate)
	assert.True(t, r.AssignedTo("drone-1"))
	assert.False(t, (&delivery.Request{}).AssignedTo("drone-1"))
}

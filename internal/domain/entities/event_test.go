package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventType_IsValid(t *testing.T) {
	assert.True(t, EventTypeVitalsUpdate.IsValid())
	assert.True(t, EventTypeSystemAlert.IsValid())
	assert.False(t, EventType("vitals").IsValid())
	assert.False(t, EventType("").IsValid())
}

func TestEvent_EpochSecondsRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 8, 30, 15, 250_000_000, time.UTC)
	e := NewEvent(EventTypeStatusUpdate, "C1", "er", nil, ts)

	back := TimeFromEpochSeconds(e.EpochSeconds())

	assert.WithinDuration(t, ts, back, time.Microsecond)
	assert.NotNil(t, e.Payload)
}

func TestDataset_NormalizeFillsMissingCollections(t *testing.T) {
	d := (&Dataset{Referrals: []*ReferralCase{{ID: "X"}}}).Normalize()

	assert.NotNil(t, d.Interventions)
	assert.NotNil(t, d.Resources)
	assert.NotNil(t, d.Referrals[0].Times)
}

func TestPriorityAndStatusRanks(t *testing.T) {
	assert.Less(t, PrioritySTAT.Rank(), PriorityUrgent.Rank())
	assert.Less(t, PriorityUrgent.Rank(), PriorityRoutine.Rank())
	assert.Less(t, StatusPreAlert.Rank(), StatusArrived.Rank())
	assert.True(t, StatusArrived.IsActive())
	assert.False(t, StatusHandover.IsActive())
}

func TestDecodeDataset(t *testing.T) {
	d, err := DecodeDataset(nil)
	assert.NoError(t, err)
	assert.Empty(t, d.Referrals)

	_, err = DecodeDataset([]byte(`{"referrals": [`))
	assert.Error(t, err)

	d, err = DecodeDataset([]byte(`{"referrals": [null, {"id": "AB12CD34", "status": "PREALERT"}]}`))
	assert.NoError(t, err)
	assert.Len(t, d.Referrals, 1)
	assert.NotNil(t, d.Resources)
}

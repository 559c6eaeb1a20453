package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenTracker_RemainingAndExhausted(t *testing.T) {
	tr := NewTokenTracker(100)
	assert.False(t, tr.Exhausted())
	tr.Spend(60)
	assert.Equal(t, 40, tr.Remaining())
	assert.True(t, tr.NearLimit(0.5))
	tr.Spend(100)
	assert.Equal(t, 0, tr.Remaining())
	assert.True(t, tr.Exhausted())
}

func TestActionTracker_BadAttemptsExhaustion(t *testing.T) {
	at := NewActionTracker(2)
	assert.False(t, at.RecordBadAttempt())
	assert.True(t, at.RecordBadAttempt())
	assert.Equal(t, 2, at.BadAttempts())
}

func TestActionTracker_SubscribeReceivesRecordedEvents(t *testing.T) {
	at := NewActionTracker(5)
	ch := at.Subscribe()
	go at.Record(ActionEvent{Step: 1, Action: ActionSearch})
	ev := <-ch
	assert.Equal(t, ActionSearch, ev.Action)
}

package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/you/actionq/internal/schedule"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("in-progress")
	assert.NoError(t, err)
	assert.Equal(t, StatusRunning, st)

	_, err = ParseStatus("sleeping")
	assert.Error(t, err)
}

func TestFromStatusCanceledDropsSchedule(t *testing.T) {
	s := schedule.NewSimple(time.Now().Add(time.Hour))
	a := FromStatus(StatusCanceled, "send_email", nil, s, "")
	assert.Equal(t, KindCanceled, a.Kind)
	_, ok := a.Schedule.Next(time.Now())
	assert.False(t, ok, "canceled actions have no remaining runs")
}

func TestFromStatusVariants(t *testing.T) {
	s := schedule.NewSimple(time.Now())
	assert.Equal(t, KindPending, FromStatus(StatusPending, "h", nil, s, "").Kind)
	assert.Equal(t, KindPending, FromStatus(StatusRunning, "h", nil, s, "").Kind)
	assert.Equal(t, KindFinished, FromStatus(StatusComplete, "h", nil, s, "").Kind)
	assert.Equal(t, KindFinished, FromStatus(StatusFailed, "h", nil, s, "").Kind)
}

func TestNullAction(t *testing.T) {
	a := Null()
	assert.True(t, a.IsNull())
	assert.False(t, New("h", nil, nil, "").IsNull())
}

func TestArgsTextNormalizesEmpty(t *testing.T) {
	assert.Equal(t, "[]", New("h", nil, nil, "").ArgsText())
	assert.Equal(t, `[1,"a"]`, New("h", []byte(`[1,"a"]`), nil, "").ArgsText())
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorsalabs/cryptoscout/internal/pipeline"
	"github.com/sorsalabs/cryptoscout/internal/store"
)

type fakeRunner struct {
	calls       int
	err         error
	hadDeadline bool
}

func (r *fakeRunner) Run(ctx context.Context) (*pipeline.Report, error) {
	r.calls++
	_, r.hadDeadline = ctx.Deadline()
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Report{RunID: "run-1", State: pipeline.StateDone}, nil
}

func TestNew_RejectsInvalidSpec(t *testing.T) {
	_, err := New(&fakeRunner{}, "", 0)
	assert.Error(t, err)

	_, err = New(&fakeRunner{}, "every other tuesday", 0)
	assert.Error(t, err)
}

func TestTrigger_RunsPipeline(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(runner, "0 6 * * MON", 0)
	require.NoError(t, err)

	s.trigger()
	assert.Equal(t, 1, runner.calls)
	assert.False(t, runner.hadDeadline, "no budget means no extra deadline")
}

func TestTrigger_AppliesRunBudget(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(runner, "0 6 * * MON", time.Minute)
	require.NoError(t, err)

	s.trigger()
	assert.True(t, runner.hadDeadline, "a configured budget bounds the triggered run")
}

func TestTrigger_ToleratesRunInProgress(t *testing.T) {
	runner := &fakeRunner{err: store.ErrRunInProgress}
	s, err := New(runner, "0 6 * * MON", 0)
	require.NoError(t, err)

	s.trigger()
	s.trigger()
	assert.Equal(t, 2, runner.calls, "skipped triggers keep the schedule alive")
}

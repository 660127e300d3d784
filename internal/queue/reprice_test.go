package queue

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func optionValue(opts []asynq.Option, kind asynq.OptionType) (any, bool) {
	for _, o := range opts {
		if o.Type() == kind {
			return o.Value(), true
		}
	}
	return nil, false
}

func TestScheduleRepriceOptions(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := Scheduler{Client: enq, Queue: "cart", Grace: 2 * time.Second, MaxRetry: 3}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.ScheduleReprice(context.Background(), "user-1", at))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypeCartReprice, enq.tasks[0].Type())
	require.JSONEq(t, `{"uid":"user-1"}`, string(enq.tasks[0].Payload()))

	opts := enq.opts[0]
	id, ok := optionValue(opts, asynq.TaskIDOpt)
	require.True(t, ok)
	require.Equal(t, RepriceTaskID("user-1", at), id)
	processAt, ok := optionValue(opts, asynq.ProcessAtOpt)
	require.True(t, ok)
	require.Equal(t, at.Add(2*time.Second), processAt)
	queueName, ok := optionValue(opts, asynq.QueueOpt)
	require.True(t, ok)
	require.Equal(t, "cart", queueName)
	retry, ok := optionValue(opts, asynq.MaxRetryOpt)
	require.True(t, ok)
	require.Equal(t, 3, retry)
}

func TestScheduleRepriceIgnoresDuplicates(t *testing.T) {
	s := Scheduler{Client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, s.ScheduleReprice(context.Background(), "user-1", time.Now()))

	s = Scheduler{Client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.Error(t, s.ScheduleReprice(context.Background(), "user-1", time.Now()))
}

func TestScheduleRepriceRequiresUser(t *testing.T) {
	s := Scheduler{Client: &fakeEnqueuer{}}
	require.Error(t, s.ScheduleReprice(context.Background(), " ", time.Now()))
}

type fakeRepricer struct {
	calls []string
	err   error
}

func (f *fakeRepricer) Reprice(_ context.Context, uid string) error {
	f.calls = append(f.calls, uid)
	return f.err
}

func TestRepriceHandler(t *testing.T) {
	rep := &fakeRepricer{}
	h := RepriceHandler{Repricer: rep}

	task, err := NewRepriceTask("user-9")
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, []string{"user-9"}, rep.calls)

	rep.err = errors.New("db down")
	require.ErrorIs(t, h.ProcessTask(context.Background(), task), rep.err)
}

func TestRepriceHandlerSkipsMalformedPayload(t *testing.T) {
	rep := &fakeRepricer{}
	h := RepriceHandler{Repricer: rep}

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeCartReprice, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeCartReprice, []byte(`{"uid":""}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, rep.calls)
}

func TestServeMuxRoutesReprice(t *testing.T) {
	rep := &fakeRepricer{}
	mux := NewServeMux(RepriceHandler{Repricer: rep})
	task, err := NewRepriceTask("user-2")
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
	require.Equal(t, []string{"user-2"}, rep.calls)
}

func TestLoggerSatisfiesAsynq(t *testing.T) {
	var buf bytes.Buffer
	var logger asynq.Logger = Logger{L: zerolog.New(&buf)}
	logger.Warn("lease ", "expired")
	require.Contains(t, buf.String(), `"message":"lease expired"`)
	require.Contains(t, buf.String(), `"level":"warn"`)
}

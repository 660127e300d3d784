package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricing/internal/obs"
)

// TypeCartReprice reprices one user's cart once a flash sale window closes.
const TypeCartReprice = "cart:reprice"

// RepricePayload is the body of a TypeCartReprice task.
type RepricePayload struct {
	UserID string `json:"uid"`
}

// NewRepriceTask builds a reprice task for the user.
func NewRepriceTask(userID string) (*asynq.Task, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("queue: user id is required")
	}
	raw, err := json.Marshal(RepricePayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCartReprice, raw), nil
}

// Enqueuer publishes asynq tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues delayed cart reprices.
type Scheduler struct {
	Client   Enqueuer
	Queue    string
	Grace    time.Duration
	MaxRetry int
	Logger   *zerolog.Logger
}

// RepriceTaskID is the dedupe key of a reprice scheduled for at.
func RepriceTaskID(userID string, at time.Time) string {
	return fmt.Sprintf("reprice:%s:%d", userID, at.Unix())
}

// ScheduleReprice enqueues a reprice of the user's cart shortly after at. A task
// already scheduled for the same user and time is not duplicated.
func (s Scheduler) ScheduleReprice(ctx context.Context, userID string, at time.Time) error {
	if s.Client == nil {
		return errors.New("queue: client not configured")
	}
	task, err := NewRepriceTask(userID)
	if err != nil {
		return err
	}
	grace := s.Grace
	if grace <= 0 {
		grace = time.Second
	}
	opts := []asynq.Option{
		asynq.ProcessAt(at.Add(grace)),
		asynq.TaskID(RepriceTaskID(userID, at)),
		asynq.Retention(time.Hour),
	}
	if q := strings.TrimSpace(s.Queue); q != "" {
		opts = append(opts, asynq.Queue(q))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	info, err := s.Client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			obs.ObserveRepriceJob("duplicate")
			return nil
		}
		return fmt.Errorf("enqueue reprice: %w", err)
	}
	obs.ObserveRepriceJob("scheduled")
	if s.Logger != nil && info != nil {
		s.Logger.Debug().Str("task_id", info.ID).Str("uid", userID).Time("process_at", info.NextProcessAt).Msg("cart reprice scheduled")
	}
	return nil
}

// Repricer reprices a user's cart.
type Repricer interface {
	Reprice(ctx context.Context, userID string) error
}

// RepriceHandler processes TypeCartReprice tasks.
type RepriceHandler struct {
	Repricer Repricer
	Logger   *zerolog.Logger
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h RepriceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RepricePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.ObserveRepriceJob("skipped")
		return fmt.Errorf("decode reprice payload: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(p.UserID) == "" {
		obs.ObserveRepriceJob("skipped")
		return fmt.Errorf("reprice payload without uid: %w", asynq.SkipRetry)
	}
	if h.Repricer == nil {
		return errors.New("queue: repricer not configured")
	}
	if err := h.Repricer.Reprice(ctx, p.UserID); err != nil {
		obs.ObserveRepriceJob("error")
		if h.Logger != nil {
			h.Logger.Error().Err(err).Str("uid", p.UserID).Msg("cart reprice failed")
		}
		return err
	}
	obs.ObserveRepriceJob("processed")
	return nil
}

// NewServeMux routes reprice tasks to h.
func NewServeMux(h RepriceHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeCartReprice, h)
	return mux
}

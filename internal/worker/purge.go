package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/lock"
)

// TypeQuotesPurge is the asynq task type that deletes expired shipping quotes.
const TypeQuotesPurge = "quotes:purge"

// QueueMaintenance carries housekeeping tasks.
const QueueMaintenance = "maintenance"

const purgeLockKey = "lock:" + TypeQuotesPurge

// PurgePayload is the task body.
type PurgePayload struct {
	GraceSeconds int64 `json:"graceSeconds"`
}

// NewPurgeTask builds a purge task for quotes expired longer than grace ago.
func NewPurgeTask(grace time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(PurgePayload{GraceSeconds: int64(grace / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeQuotesPurge, body, asynq.Queue(QueueMaintenance), asynq.MaxRetry(1)), nil
}

// Purger deletes expired quotes. shipping.Engine satisfies it.
type Purger interface {
	PurgeExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// Locker runs fn while holding a named lock. lock.Locker satisfies it.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// PurgeHandler processes TypeQuotesPurge tasks. Only one worker purges at a time;
// a run that finds the lock held is skipped.
type PurgeHandler struct {
	Quotes  Purger
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h PurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PurgePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeQuotesPurge, err, asynq.SkipRetry)
	}
	if p.GraceSeconds < 0 {
		return fmt.Errorf("%s: negative grace: %w", TypeQuotesPurge, asynq.SkipRetry)
	}
	grace := time.Duration(p.GraceSeconds) * time.Second

	err := h.Locker.TryWithLock(ctx, purgeLockKey, h.LockTTL, func(ctx context.Context) error {
		n, err := h.Quotes.PurgeExpired(ctx, grace)
		if err != nil {
			return err
		}
		h.Logger.Info().Int64("deleted", n).Dur("grace", grace).Msg("quotes_purged")
		return nil
	})
	if errors.Is(err, lock.ErrHeld) {
		h.Logger.Debug().Msg("quotes_purge_skipped")
		return nil
	}
	return err
}

// NewServeMux routes worker task types to their handlers.
func NewServeMux(purge PurgeHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeQuotesPurge, purge)
	return mux
}

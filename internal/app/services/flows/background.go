package flows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shule-ai/tutor-gateway/internal/app/metrics"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

const (
	taskTimeout    = 60 * time.Second
	apologyTimeout = 10 * time.Second
)

// generalErrorReply is the best-effort apology sent when post-acknowledgment
// work fails; the original webhook was already answered.
const generalErrorReply = "Sorry, something went wrong on our side. Please try again later."

// TaskRunner executes post-acknowledgment work detached from the webhook
// request, so the webhook can be answered within the platform's response-time
// ceiling. A failed or panicking task is logged, counted and converted into a
// best-effort message to the user; it never surfaces as an HTTP failure for a
// request that was already acknowledged and is never retried here.
type TaskRunner struct {
	notify  Notifier
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTaskRunner constructs a runner that reports failures to users via notify.
func NewTaskRunner(notify Notifier, log *logger.Logger) *TaskRunner {
	if log == nil {
		log = logger.NewDefault("flow-tasks")
	}
	return &TaskRunner{notify: notify, log: log, timeout: taskTimeout}
}

// Go runs fn detached from the calling request. waID identifies the user to
// apologize to when the task fails; tasks run to completion or failure, never
// cancelled mid-flight by this layer.
func (r *TaskRunner) Go(name, waID string, fn func(ctx context.Context) error) {
	taskID := uuid.NewString()
	log := r.log.WithField("task", name).WithField("task_id", taskID).WithField("wa_id", waID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// Detached from the request context: the webhook acknowledgment must
		// not depend on this work, and this work must not die with it.
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		err := runRecovering(ctx, fn)
		if err == nil {
			metrics.RecordBackgroundTask(name, true)
			return
		}

		metrics.RecordBackgroundTask(name, false)
		log.WithError(err).Error("background task failed")

		if r.notify != nil && waID != "" {
			// The task context may be the very thing that expired; the
			// apology gets its own deadline so it can still be delivered.
			sendCtx, sendCancel := context.WithTimeout(context.Background(), apologyTimeout)
			defer sendCancel()
			if sendErr := r.notify.SendText(sendCtx, waID, generalErrorReply); sendErr != nil {
				log.WithError(sendErr).Warn("send failure notice failed")
			}
		}
	}()
}

// Wait blocks until all dispatched tasks finish; for shutdown and tests.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}

func runRecovering(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"expense_sync/internal/columns"
	"expense_sync/internal/drive"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/metrics"
	"expense_sync/internal/notifications"
	"expense_sync/internal/queue"
	"expense_sync/internal/rows"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries   = 5
	DefaultPollInterval = 30 * time.Second
)

type authChecker interface {
	Check(ctx context.Context) error
}

type connectivity interface {
	Online() bool
}

type listAdder interface {
	AddItem(ctx context.Context, list queue.ListKind, value string) (bool, error)
}

type notifier interface {
	NotifyFailed(ctx context.Context, items []notifications.FailedItem)
}

type Params struct {
	Queue    *queue.Queue
	Resolver *columns.Resolver
	Rows     *rows.Allocator
	Blobs    drive.Uploader
	Lists    listAdder
	Auth     authChecker

	// Optional.
	Online   connectivity
	Notifier notifier
	Metrics  *metrics.SyncMetrics

	MaxRetries   int
	PollInterval time.Duration
}

// Result summarizes one drain.
type Result struct {
	Skipped      bool `json:"skipped"`
	AuthRequired bool `json:"auth_required"`
	Attempted    int  `json:"attempted"`
	Synced       int  `json:"synced"`
	Retrying     int  `json:"retrying"`
	Failed       int  `json:"failed"`
}

// Engine drains the durable queue into the remote stores. At most one drain
// runs at a time.
type Engine struct {
	queue    *queue.Queue
	resolver *columns.Resolver
	rows     *rows.Allocator
	blobs    drive.Uploader
	lists    listAdder
	auth     authChecker
	online   connectivity
	notifier notifier
	metrics  *metrics.SyncMetrics

	maxRetries   int
	pollInterval time.Duration
	now          func() time.Time

	draining atomic.Bool
	trigger  chan struct{}
}

func New(params Params) (*Engine, error) {
	if params.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if params.Resolver == nil || params.Rows == nil {
		return nil, errors.New("sheet resolver and row allocator are required")
	}
	if params.Blobs == nil {
		return nil, errors.New("blob uploader is required")
	}
	if params.Lists == nil {
		return nil, errors.New("list service is required")
	}
	if params.Auth == nil {
		return nil, errors.New("auth checker is required")
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &Engine{
		queue:        params.Queue,
		resolver:     params.Resolver,
		rows:         params.Rows,
		blobs:        params.Blobs,
		lists:        params.Lists,
		auth:         params.Auth,
		online:       params.Online,
		notifier:     params.Notifier,
		metrics:      params.Metrics,
		maxRetries:   maxRetries,
		pollInterval: poll,
		now:          time.Now,
		trigger:      make(chan struct{}, 1),
	}, nil
}

func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

// Draining reports whether a drain is in progress.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// Drain processes every eligible item once. It is skipped without side
// effects when another drain is running or the device is known offline. The
// returned error is set only when the drain stopped early: missing
// credentials or an unreadable queue.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	if e.online != nil && !e.online.Online() {
		log.Debug().Msg("Offline, skipping drain")
		e.metrics.IncDrain("skipped")
		return Result{Skipped: true}, nil
	}
	if !e.draining.CompareAndSwap(false, true) {
		log.Debug().Msg("Drain already running, skipping")
		e.metrics.IncDrain("skipped")
		return Result{Skipped: true}, nil
	}
	defer e.draining.Store(false)

	start := e.now()
	defer func() { e.metrics.ObserveDrain(e.now().Sub(start)) }()

	if err := e.auth.Check(ctx); err != nil {
		if pkgerrors.RequiresLogin(err) {
			log.Warn().Err(err).Msg("Sign-in required, queue left untouched")
			e.metrics.IncDrain("auth")
			return Result{AuthRequired: true}, err
		}
		log.Warn().Err(err).Msg("Access token unavailable, deferring drain")
		e.metrics.IncDrain("deferred")
		return Result{}, nil
	}

	items, err := e.queue.ListPending(ctx)
	if err != nil {
		e.metrics.IncDrain("error")
		return Result{}, err
	}
	if len(items) == 0 {
		e.metrics.IncDrain("completed")
		e.reportDepth(ctx)
		return Result{}, nil
	}

	log.Info().Int("items", len(items)).Msg("Draining queue")
	sess := e.newSession()

	var result Result
	var failed []notifications.FailedItem
	for i := range items {
		item := &items[i]
		if ctx.Err() != nil {
			break
		}
		result.Attempted++

		err := e.processItem(ctx, sess, item)
		if err == nil {
			if rmErr := e.queue.Remove(ctx, item.ID); rmErr != nil {
				log.Error().Err(rmErr).Str("item_id", item.ID).Msg("Synced item could not be removed from queue")
			}
			result.Synced++
			e.metrics.IncItem(string(item.Kind), "synced")
			log.Info().Str("item_id", item.ID).Str("kind", string(item.Kind)).Msg("Item synced")
			continue
		}

		if ctx.Err() != nil {
			e.persist(ctx, item, item.RecordInterruption(err))
			e.metrics.IncItem(string(item.Kind), "interrupted")
			break
		}

		if pkgerrors.RequiresLogin(err) {
			e.persist(ctx, item, item.RecordInterruption(err))
			e.metrics.IncItem(string(item.Kind), "interrupted")
			e.metrics.IncDrain("auth")
			e.notifyFailed(ctx, failed)
			result.AuthRequired = true
			log.Warn().Err(err).Str("item_id", item.ID).Msg("Sign-in required, stopping drain")
			e.reportDepth(ctx)
			return result, err
		}

		var update queue.StatusUpdate
		if pkgerrors.IsRetryable(err) {
			update = item.RecordFailure(err, e.maxRetries)
		} else {
			update = item.RecordPermanentFailure(err, e.maxRetries)
		}
		e.persist(ctx, item, update)

		if update.Status == queue.StatusFailed {
			result.Failed++
			e.metrics.IncItem(string(item.Kind), "failed")
			failed = append(failed, failedItem(item))
			log.Error().
				Err(err).
				Str("item_id", item.ID).
				Str("kind", string(item.Kind)).
				Int("retry_count", item.RetryCount).
				Msg("Item failed permanently")
		} else {
			result.Retrying++
			e.metrics.IncItem(string(item.Kind), "retry")
			log.Warn().
				Err(err).
				Str("item_id", item.ID).
				Str("kind", string(item.Kind)).
				Int("retry_count", item.RetryCount).
				Msg("Item will be retried")
		}
	}

	e.notifyFailed(ctx, failed)
	e.metrics.IncDrain("completed")
	e.reportDepth(ctx)

	log.Info().
		Int("attempted", result.Attempted).
		Int("synced", result.Synced).
		Int("retrying", result.Retrying).
		Int("failed", result.Failed).
		Msg("Drain finished")
	return result, nil
}

func (e *Engine) persist(ctx context.Context, item *queue.Item, update queue.StatusUpdate) {
	// The item state must be written even when ctx was cancelled mid-item.
	if err := e.queue.UpdateStatus(context.WithoutCancel(ctx), item.ID, update); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("Failed to record item status")
	}
}

func (e *Engine) notifyFailed(ctx context.Context, failed []notifications.FailedItem) {
	if e.notifier == nil || len(failed) == 0 {
		return
	}
	e.notifier.NotifyFailed(ctx, failed)
}

func (e *Engine) reportDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	counts, err := e.queue.CountByStatus(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Could not count queue items")
		return
	}
	byStatus := make(map[string]int64, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	e.metrics.SetDepth(byStatus, string(queue.StatusPending), string(queue.StatusRetry), string(queue.StatusFailed))
}

func failedItem(item *queue.Item) notifications.FailedItem {
	return notifications.FailedItem{
		ID:        item.ID,
		Kind:      string(item.Kind),
		Summary:   summarize(item),
		ErrorCode: item.LastErrorCode,
		Error:     item.LastError,
	}
}

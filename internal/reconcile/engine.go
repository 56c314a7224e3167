// Package reconcile keeps the replica in step with the ledger: it reads
// events in bounded block ranges, runs them through the approval state
// machine and persists the outcome before advancing the sync cursor.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Ledger is the part of the ledger client the engine needs.
type Ledger interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FetchEvents(ctx context.Context, from, to uint64) (model.EventRange, error)
	GetRequest(ctx context.Context, ref model.RequestRef) (model.RequestSnapshot, error)
}

type Config struct {
	// BatchBlocks is the size of one durable batch in blocks.
	BatchBlocks uint64
	// Confirmations keeps the engine this many blocks behind the head.
	Confirmations   uint64
	DeploymentBlock uint64
	Interval        time.Duration
	MaxRetries      uint64
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	// EagerPollDelay is the wait before the follow-up run scheduled when a
	// request reaches its quorum.
	EagerPollDelay time.Duration
	// TriggerTimeout bounds a run started by TriggerResync.
	TriggerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchBlocks == 0 {
		c.BatchBlocks = 500
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.EagerPollDelay <= 0 {
		c.EagerPollDelay = 2 * time.Second
	}
	if c.TriggerTimeout <= 0 {
		c.TriggerTimeout = 5 * time.Minute
	}
	return c
}

type Engine struct {
	logger *zap.Logger
	ledger Ledger
	store  repository.Store
	cfg    Config

	group singleflight.Group
	// runMu serialises physical runs, so a backfill never interleaves its
	// writes with a sync.
	runMu sync.Mutex

	// base parents every run the engine starts on its own; Run cancels it
	// on exit.
	base    context.Context
	stop    context.CancelFunc
	pending sync.WaitGroup
	stats   stats
}

func NewEngine(logger *zap.Logger, ledger Ledger, store repository.Store, cfg Config) *Engine {
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		logger: logger,
		ledger: ledger,
		store:  store,
		cfg:    cfg.withDefaults(),
		base:   base,
		stop:   stop,
	}
}

const universityScopePrefix = "university:"

// UniversityScope names the sync scope of one university.
func UniversityScope(universityID uint64) string {
	return universityScopePrefix + strconv.FormatUint(universityID, 10)
}

// ParseScope accepts model.GlobalScope or "university:<ledger id>".
func ParseScope(scope string) (universityID uint64, isUniversity bool, err error) {
	if scope == model.GlobalScope {
		return 0, false, nil
	}
	if !strings.HasPrefix(scope, universityScopePrefix) {
		return 0, false, fmt.Errorf("%w: scope %q", model.ErrInvalidArgument, scope)
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(scope, universityScopePrefix), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: scope %q", model.ErrInvalidArgument, scope)
	}
	return id, true, nil
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, e.cfg.MaxRetries), ctx)
}

// retry runs op until it succeeds, fails with a non transient error or the
// retry budget is spent.
func (e *Engine) retry(ctx context.Context, what string, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, e.newBackOff(ctx), func(err error, wait time.Duration) {
		e.stats.retries.Inc()
		e.logger.Warn(what+" failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
}

// Run syncs on a fixed interval until ctx is cancelled. Runs asked for with
// TriggerResync happen in between and are cancelled when Run returns; the
// engine starts no new ones afterwards.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info("reconciliation engine started", zap.Duration("interval", e.cfg.Interval))
	e.runScope(ctx, model.GlobalScope)
	for {
		select {
		case <-ctx.Done():
			e.stop()
			e.pending.Wait()
			e.logger.Info("reconciliation engine stopped")
			return nil
		case <-ticker.C:
			e.runScope(ctx, model.GlobalScope)
		}
	}
}

func (e *Engine) runScope(ctx context.Context, scope string) {
	if _, err := e.Resync(ctx, scope); err != nil && ctx.Err() == nil {
		e.logger.Error("sync run failed", zap.String("scope", scope), zap.Error(err))
	}
}

// TriggerResync schedules a run for scope without waiting for it.
func (e *Engine) TriggerResync(scope string) error {
	if _, _, err := ParseScope(scope); err != nil {
		return err
	}
	if e.base.Err() != nil {
		e.logger.Debug("engine stopped, trigger dropped", zap.String("scope", scope))
		return nil
	}
	e.stats.triggers.Inc()

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(e.base, e.cfg.TriggerTimeout)
		defer cancel()
		e.runScope(ctx, scope)
	}()
	return nil
}

// Wait blocks until runs started by TriggerResync are done.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) scheduleFollowUp() {
	if e.base.Err() != nil || !e.stats.followUp.CAS(false, true) {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		timer := time.NewTimer(e.cfg.EagerPollDelay)
		defer timer.Stop()
		select {
		case <-e.base.Done():
		case <-timer.C:
			e.stats.followUp.Store(false)
			e.TriggerResync(model.GlobalScope)
			return
		}
	}()
}

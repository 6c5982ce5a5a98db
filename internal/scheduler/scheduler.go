// Package scheduler coordinates periodic ingestion, detection, and
// persistence: one logical refresh worker driven by a timer, a
// manual-trigger input, and a shutdown signal, per spec.md §5/§9's "single
// scheduler actor with three inputs and one output" design note.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/charleschow/arbfinder/internal/core/detector"
	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

// Status values for RefreshResult.Status.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Retry policy for per-sport TransientError per spec.md §4.E step 2.
const (
	maxAttempts  = 3
	baseBackoff  = 1 * time.Second
	jitterFactor = 0.10
)

// Client is the subset of oddsapi.Client the scheduler needs.
type Client interface {
	GetOdds(ctx context.Context, sportKey string) ([]odds.Event, odds.QuotaSnapshot, error)
}

// Store is the subset of store.Store the scheduler needs.
type Store interface {
	ReplaceLatest(ctx context.Context, events []odds.Event) error
	AppendOpportunities(ctx context.Context, ops []odds.Opportunity) (int, error)
}

// Counts summarises one refresh cycle's volume.
type Counts struct {
	EventsFetched          int
	OpportunitiesDetected  int
	OpportunitiesPersisted int
}

// RefreshResult is published as a whole struct — never field-by-field — so
// concurrent readers of LastRun never observe a torn update (spec.md §5).
type RefreshResult struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Counts     Counts
	Quota      odds.QuotaSnapshot
	Errors     []string
}

// Config tunes the scheduler's behaviour.
type Config struct {
	Sports      []string
	Interval    time.Duration // 0 disables automatic ticks (manual-only mode)
	DetectorCfg detector.Config
}

// Scheduler runs exactly one refresh at a time; a tick arriving mid-refresh
// is dropped, and manual triggers while a refresh is in flight piggyback on
// it via singleflight.
type Scheduler struct {
	cfg    Config
	client Client
	store  Store

	group   singleflight.Group
	running atomic.Bool

	lastRun atomic.Pointer[RefreshResult]

	mu                 sync.Mutex
	quotaSuppressUntil time.Time

	shutdownCh chan struct{}
	doneCh     chan struct{}
}

// New builds a Scheduler. Call Run in its own goroutine to start the actor
// loop.
func New(cfg Config, client Client, store Store) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		client:     client,
		store:      store,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// LastRun returns the most recently published refresh result, or the zero
// value if no refresh has completed yet.
func (s *Scheduler) LastRun() (RefreshResult, bool) {
	p := s.lastRun.Load()
	if p == nil {
		return RefreshResult{}, false
	}
	return *p, true
}

// TriggerRefresh starts a refresh if idle, or piggybacks on the in-flight
// one if a refresh is already running; all callers see the same result.
// Blocks until the refresh (new or piggybacked) completes, or ctx is done.
func (s *Scheduler) TriggerRefresh(ctx context.Context) (RefreshResult, error) {
	resCh := s.group.DoChan("refresh", func() (any, error) {
		return s.runOnce(context.Background()), nil
	})

	select {
	case r := <-resCh:
		return r.Val.(RefreshResult), nil
	case <-ctx.Done():
		return RefreshResult{}, fmt.Errorf("%w: %v", odds.ErrCancelled, ctx.Err())
	}
}

// Run is the scheduler actor's main loop. It performs an immediate refresh
// on startup (unless Interval is 0), then ticks on the configured interval
// until shutdown. Returns once shutdown completes or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	if s.cfg.Interval <= 0 {
		<-s.awaitShutdown(ctx)
		return
	}

	if _, err := s.TriggerRefresh(ctx); err != nil {
		telemetry.Warnf("scheduler: initial refresh: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			if s.tickSuppressed() {
				telemetry.Infof("scheduler: tick suppressed until quota reset")
				continue
			}
			if s.running.Load() {
				telemetry.Infof("scheduler: tick dropped, refresh already in flight")
				continue
			}
			go func() {
				if _, err := s.TriggerRefresh(ctx); err != nil {
					telemetry.Warnf("scheduler: tick refresh: %v", err)
				}
			}()
		}
	}
}

func (s *Scheduler) awaitShutdown(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case <-s.shutdownCh:
		}
	}()
	return done
}

// Shutdown signals the actor loop to stop and waits up to 5s for Run to
// return. A refresh already in flight is not cancelled: it runs on its own
// background context and completes, store writes included, after Shutdown
// returns.
func (s *Scheduler) Shutdown() {
	close(s.shutdownCh)
	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		telemetry.Warnf("scheduler: shutdown did not complete within 5s")
	}
}

func (s *Scheduler) tickSuppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.quotaSuppressUntil.IsZero() && time.Now().UTC().Before(s.quotaSuppressUntil)
}

func (s *Scheduler) suppressUntil(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotaSuppressUntil = t
}

// runOnce executes the per-refresh algorithm of spec.md §4.E steps 1-5. Only
// ever invoked once at a time, via singleflight's dedup of the "refresh" key.
func (s *Scheduler) runOnce(ctx context.Context) RefreshResult {
	s.running.Store(true)
	defer s.running.Store(false)

	started := time.Now().UTC()
	telemetry.Metrics.RefreshInFlight(true)
	defer telemetry.Metrics.RefreshInFlight(false)

	sports := append([]string(nil), s.cfg.Sports...)
	sort.Strings(sports)

	var (
		allEvents []odds.Event
		errs      []string
		quota     odds.QuotaSnapshot
		aborted   bool
		authAbort bool
	)

sportLoop:
	for _, sport := range sports {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", sport, odds.ErrCancelled))
			aborted = true
			break
		}

		events, q, err := s.fetchWithRetry(ctx, sport)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", sport, err))
			telemetry.Metrics.SportFetchError(sport, classify(err))

			switch e := err.(type) {
			case *odds.AuthError:
				aborted = true
				authAbort = true
				break sportLoop
			case *odds.QuotaExhaustedError:
				aborted = true
				resetAt := e.ResetAt
				if resetAt.IsZero() {
					resetAt = time.Now().UTC().Add(s.cfg.Interval)
				}
				s.suppressUntil(resetAt)
				quota = odds.QuotaSnapshot{ObservedAt: time.Now().UTC(), ResetAt: resetAt}
				break sportLoop
			default:
				// TransientError exhausted retries: skip this sport, other
				// sports proceed.
				continue
			}
		}
		if q.ObservedAt.After(quota.ObservedAt) {
			quota = q
		}
		allEvents = append(allEvents, events...)
	}

	result := RefreshResult{StartedAt: started, Quota: quota, Errors: errs}

	if aborted {
		result.FinishedAt = time.Now().UTC()
		// AuthError is fatal — the credential itself is bad and the
		// refresh produced nothing usable. QuotaExhaustedError is an
		// expected, recoverable backpressure signal, so it stays Partial
		// (spec.md §7: AuthError surfaces as a non-2xx on manual refresh).
		if authAbort {
			result.Status = StatusFailed
		} else {
			result.Status = StatusPartial
		}
		s.publish(&result)
		telemetry.Metrics.RefreshCompleted(result.Status, result.FinishedAt.Sub(started))
		return result
	}

	opps := detector.Detect(allEvents, s.cfg.DetectorCfg, started)
	result.Counts.EventsFetched = len(allEvents)
	result.Counts.OpportunitiesDetected = len(opps)

	status := StatusOK
	if err := s.replaceLatestWithRetry(ctx, allEvents); err != nil {
		errs = append(errs, fmt.Sprintf("replace_latest: %v", err))
		status = StatusFailed
		telemetry.Metrics.StoreError()
	} else if persisted, err := s.appendOpportunitiesWithRetry(ctx, opps); err != nil {
		// latest-events update is authoritative even if opportunity
		// persistence fails — logged but non-fatal (spec.md §4.E step 4).
		errs = append(errs, fmt.Sprintf("append_opportunities: %v", err))
		status = StatusPartial
		telemetry.Metrics.StoreError()
	} else {
		result.Counts.OpportunitiesPersisted = persisted
	}

	result.Status = status
	result.Errors = errs
	result.FinishedAt = time.Now().UTC()
	telemetry.Metrics.OpportunitiesFound(result.Counts.OpportunitiesDetected)
	telemetry.Metrics.RefreshCompleted(result.Status, result.FinishedAt.Sub(started))
	telemetry.Infof("scheduler: refresh %s: %s events fetched, %s opportunities persisted in %s",
		result.Status,
		humanize.Comma(int64(result.Counts.EventsFetched)),
		humanize.Comma(int64(result.Counts.OpportunitiesPersisted)),
		result.FinishedAt.Sub(started))
	s.publish(&result)
	return result
}

func (s *Scheduler) publish(r *RefreshResult) {
	s.lastRun.Store(r)
}

// replaceLatestWithRetry and appendOpportunitiesWithRetry apply spec.md §7's
// store-write retry policy: on StoreError, retry exactly once with no
// backoff. A second replace_latest failure marks the refresh failed and the
// prior snapshot remains authoritative; a second append_opportunities
// failure marks it partial, since the latest-events update already
// committed.
func (s *Scheduler) replaceLatestWithRetry(ctx context.Context, events []odds.Event) error {
	if err := s.store.ReplaceLatest(ctx, events); err != nil {
		telemetry.Warnf("scheduler: replace_latest failed, retrying once: %v", err)
		return s.store.ReplaceLatest(ctx, events)
	}
	return nil
}

func (s *Scheduler) appendOpportunitiesWithRetry(ctx context.Context, opps []odds.Opportunity) (int, error) {
	persisted, err := s.store.AppendOpportunities(ctx, opps)
	if err != nil {
		telemetry.Warnf("scheduler: append_opportunities failed, retrying once: %v", err)
		return s.store.AppendOpportunities(ctx, opps)
	}
	return persisted, nil
}

// fetchWithRetry retries on TransientError up to maxAttempts with
// exponential backoff and 10% jitter, per spec.md §4.E step 2.
func (s *Scheduler) fetchWithRetry(ctx context.Context, sport string) ([]odds.Event, odds.QuotaSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		events, quota, err := s.client.GetOdds(ctx, sport)
		if err == nil {
			return events, quota, nil
		}
		lastErr = err

		if _, ok := err.(*odds.TransientError); !ok {
			return nil, odds.QuotaSnapshot{}, err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
		jitter := time.Duration(rand.Float64() * jitterFactor * float64(backoff))
		telemetry.Warnf("scheduler: %s fetch attempt %d failed: %v — retrying in %s", sport, attempt, err, backoff+jitter)

		select {
		case <-ctx.Done():
			return nil, odds.QuotaSnapshot{}, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return nil, odds.QuotaSnapshot{}, lastErr
}

func classify(err error) string {
	switch err.(type) {
	case *odds.AuthError:
		return "auth"
	case *odds.QuotaExhaustedError:
		return "quota"
	case *odds.TransientError:
		return "transient"
	default:
		return "other"
	}
}

// Package service is the read/refresh surface consumed by the HTTP layer:
// current and historical opportunities, the latest odds snapshot, scheduler
// status, manual refresh, and the sport catalogue. No HTTP semantics live
// here (spec.md §4.F) — this package is transport-agnostic.
package service

import (
	"context"
	"time"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/scheduler"
	"github.com/charleschow/arbfinder/internal/store"
)

// Store is the subset of store.Store the service reads from.
type Store interface {
	ListLatest(ctx context.Context, sport string) ([]odds.Event, error)
	ListOpportunities(ctx context.Context, filter store.OpportunityFilter) ([]odds.Opportunity, error)
}

// Scheduler is the subset of scheduler.Scheduler the service drives and
// observes.
type Scheduler interface {
	LastRun() (scheduler.RefreshResult, bool)
	TriggerRefresh(ctx context.Context) (scheduler.RefreshResult, error)
}

// SportCatalogue supplies the sport list; refreshed independently of the
// odds refresh cycle (catalogue entries change far less often than odds).
type SportCatalogue interface {
	ListSports(ctx context.Context) ([]odds.Sport, error)
}

// Status summarises scheduler state for the status endpoint.
type Status struct {
	ConfiguredSports []string
	LastRun          *scheduler.RefreshResult
	Quota            odds.QuotaSnapshot
}

// Service wires the store, scheduler, and sport catalogue behind the read
// surface spec.md §4.F names. All reads are non-blocking relative to the
// scheduler — they hit the store directly, never the in-flight refresh.
type Service struct {
	store      Store
	scheduler  Scheduler
	catalogue  SportCatalogue
	configured []string
}

func New(store Store, sched Scheduler, catalogue SportCatalogue, configuredSports []string) *Service {
	return &Service{store: store, scheduler: sched, catalogue: catalogue, configured: configuredSports}
}

// CurrentOpportunities returns logged opportunities, newest first, up to
// limit. It does not restrict the result to the latest refresh run.
func (s *Service) CurrentOpportunities(ctx context.Context, sport string, minProfitPct float64, limit int) ([]odds.Opportunity, error) {
	return s.store.ListOpportunities(ctx, store.OpportunityFilter{
		Sport:        sport,
		MinProfitPct: minProfitPct,
		Limit:        limit,
	})
}

// HistoricalOpportunities returns opportunities detected since a given
// instant (zero value means "no lower bound").
func (s *Service) HistoricalOpportunities(ctx context.Context, since time.Time, sport string, limit int) ([]odds.Opportunity, error) {
	return s.store.ListOpportunities(ctx, store.OpportunityFilter{
		Sport: sport,
		Since: since,
		Limit: limit,
	})
}

// LatestOdds returns the current snapshot, optionally filtered to one sport.
func (s *Service) LatestOdds(ctx context.Context, sport string) ([]odds.Event, error) {
	return s.store.ListLatest(ctx, sport)
}

// Status reports the scheduler's configured sports, last completed run, and
// most recently observed quota.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{ConfiguredSports: s.configured}
	if last, ok := s.scheduler.LastRun(); ok {
		r := last
		st.LastRun = &r
		st.Quota = r.Quota
	}
	return st
}

// TriggerRefresh starts (or piggybacks on) a refresh and returns its result.
func (s *Service) TriggerRefresh(ctx context.Context) (scheduler.RefreshResult, error) {
	return s.scheduler.TriggerRefresh(ctx)
}

// Sports returns the upstream sport catalogue.
func (s *Service) Sports(ctx context.Context) ([]odds.Sport, error) {
	return s.catalogue.ListSports(ctx)
}

package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEvent(sport, home, away string, commence time.Time) odds.Event {
	return odds.Event{
		ID:           sport + "-" + home + "-" + away,
		SportKey:     sport,
		CommenceTime: commence,
		HomeTeam:     home,
		AwayTeam:     away,
	}
}

func TestReplaceLatestIsAtomic(t *testing.T) {
	convey.Convey("Given a store with an existing snapshot", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		err := s.ReplaceLatest(ctx, []odds.Event{
			sampleEvent("nfl", "Bills", "Chiefs", now.Add(time.Hour)),
		})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Replacing with a new snapshot removes the old events entirely", func() {
			err := s.ReplaceLatest(ctx, []odds.Event{
				sampleEvent("nba", "Celtics", "Lakers", now.Add(2*time.Hour)),
			})
			convey.So(err, convey.ShouldBeNil)

			events, err := s.ListLatest(ctx, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(events, convey.ShouldHaveLength, 1)
			convey.So(events[0].SportKey, convey.ShouldEqual, "nba")
		})

		convey.Convey("An empty replacement clears the snapshot", func() {
			err := s.ReplaceLatest(ctx, nil)
			convey.So(err, convey.ShouldBeNil)

			events, err := s.ListLatest(ctx, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(events, convey.ShouldBeEmpty)
		})
	})
}

func TestListLatestFiltersBySport(t *testing.T) {
	convey.Convey("Given a snapshot spanning two sports", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		err := s.ReplaceLatest(ctx, []odds.Event{
			sampleEvent("nfl", "Bills", "Chiefs", now.Add(time.Hour)),
			sampleEvent("nba", "Celtics", "Lakers", now.Add(2*time.Hour)),
		})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Filtering by sport returns only that sport's events", func() {
			events, err := s.ListLatest(ctx, "nfl")
			convey.So(err, convey.ShouldBeNil)
			convey.So(events, convey.ShouldHaveLength, 1)
			convey.So(events[0].SportKey, convey.ShouldEqual, "nfl")
		})
	})
}

func sampleOpportunity(sport string, profitPct float64, detectedAt time.Time) odds.Opportunity {
	return odds.Opportunity{
		SportKey:     sport,
		CommenceTime: detectedAt.Add(time.Hour),
		HomeTeam:     "Home",
		AwayTeam:     "Away",
		Market:       odds.MarketH2H,
		ProfitPct:    profitPct,
		DetectedAt:   detectedAt,
	}
}

func TestAppendOpportunitiesIsIdempotentPerMinuteBucket(t *testing.T) {
	convey.Convey("Given an opportunity detected at a given instant", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		detectedAt := time.Now().UTC().Truncate(time.Minute)
		opp := sampleOpportunity("nfl", 5.0, detectedAt)

		n, err := s.AppendOpportunities(ctx, []odds.Opportunity{opp})
		convey.So(err, convey.ShouldBeNil)
		convey.So(n, convey.ShouldEqual, 1)

		convey.Convey("Appending the same opportunity again within the same minute bucket is a no-op", func() {
			again := opp
			again.DetectedAt = detectedAt.Add(5 * time.Second) // still within the same minute

			n, err := s.AppendOpportunities(ctx, []odds.Opportunity{again})
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 0)

			ops, err := s.ListOpportunities(ctx, store.OpportunityFilter{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(ops, convey.ShouldHaveLength, 1)
		})
	})
}

func TestListOpportunitiesFiltersAndOrders(t *testing.T) {
	convey.Convey("Given opportunities across sports and profit levels", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Hour)

		_, err := s.AppendOpportunities(ctx, []odds.Opportunity{
			sampleOpportunity("nfl", 2.0, base),
			sampleOpportunity("nfl", 8.0, base.Add(time.Minute)),
			sampleOpportunity("nba", 5.0, base.Add(2*time.Minute)),
		})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("min_profit_pct filters out lower-profit rows", func() {
			ops, err := s.ListOpportunities(ctx, store.OpportunityFilter{MinProfitPct: 4.0})
			convey.So(err, convey.ShouldBeNil)
			convey.So(ops, convey.ShouldHaveLength, 2)
		})

		convey.Convey("sport filters to one sport", func() {
			ops, err := s.ListOpportunities(ctx, store.OpportunityFilter{Sport: "nba"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(ops, convey.ShouldHaveLength, 1)
			convey.So(ops[0].SportKey, convey.ShouldEqual, "nba")
		})

		convey.Convey("results are ordered detected_at descending", func() {
			ops, err := s.ListOpportunities(ctx, store.OpportunityFilter{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(ops, convey.ShouldHaveLength, 3)
			convey.So(ops[0].DetectedAt.After(ops[1].DetectedAt) || ops[0].DetectedAt.Equal(ops[1].DetectedAt), convey.ShouldBeTrue)
		})
	})
}

func TestPurgeOpportunities(t *testing.T) {
	convey.Convey("Given an old and a recent opportunity", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		_, err := s.AppendOpportunities(ctx, []odds.Opportunity{
			sampleOpportunity("nfl", 3.0, now.Add(-48*time.Hour)),
			sampleOpportunity("nfl", 3.0, now),
		})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Purging older-than-24h removes only the stale row", func() {
			n, err := s.PurgeOpportunities(ctx, now.Add(-24*time.Hour))
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 1)

			ops, err := s.ListOpportunities(ctx, store.OpportunityFilter{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(ops, convey.ShouldHaveLength, 1)
		})
	})
}

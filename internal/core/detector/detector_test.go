package detector_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/charleschow/arbfinder/internal/core/detector"
	"github.com/charleschow/arbfinder/internal/core/odds"
)

func mustDecimal(t *testing.T, american float64) float64 {
	t.Helper()
	d, err := odds.AmericanToDecimal(american)
	if err != nil {
		t.Fatalf("AmericanToDecimal(%v): %v", american, err)
	}
	return d
}

func outcome(t *testing.T, name string, american float64, point *float64) odds.Outcome {
	return odds.Outcome{Name: name, Price: american, Decimal: mustDecimal(t, american), Point: point}
}

func pt(v float64) *float64 { return &v }

func h2hEvent(t *testing.T, now time.Time, bookA, bookB map[string]float64) odds.Event {
	mkBook := func(key string, prices map[string]float64) odds.Bookmaker {
		var outcomes []odds.Outcome
		for name, price := range prices {
			outcomes = append(outcomes, outcome(t, name, price, nil))
		}
		return odds.Bookmaker{
			Key:     key,
			Title:   key,
			Markets: []odds.MarketQuote{{Key: odds.MarketH2H, Outcomes: outcomes}},
		}
	}
	return odds.Event{
		ID:           "evt1",
		SportKey:     "americanfootball_nfl",
		CommenceTime: now.Add(time.Hour),
		HomeTeam:     "Bills",
		AwayTeam:     "Chiefs",
		Bookmakers:   []odds.Bookmaker{mkBook("bookA", bookA), mkBook("bookB", bookB)},
	}
}

func TestClassicTwoWayArb(t *testing.T) {
	convey.Convey("Given Chiefs vs Bills with BookA and BookB quoting h2h", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		ev := h2hEvent(t, now,
			map[string]float64{"Chiefs": 150, "Bills": -180},
			map[string]float64{"Chiefs": 120, "Bills": 110},
		)

		cfg := detector.Config{Markets: []odds.MarketKey{odds.MarketH2H}}
		opps := detector.Detect([]odds.Event{ev}, cfg, now)

		convey.Convey("Exactly one opportunity is detected", func() {
			convey.So(opps, convey.ShouldHaveLength, 1)
		})

		convey.Convey("The best legs and profit match the spec scenario", func() {
			opp := opps[0]
			convey.So(opp.TotalImpliedProbability, convey.ShouldAlmostEqual, 0.87619, 1e-4)
			convey.So(opp.ProfitPct, convey.ShouldAlmostEqual, 14.13, 1e-1)

			var chiefsLeg, billsLeg odds.Leg
			for _, leg := range opp.Legs {
				switch leg.OutcomeName {
				case "Chiefs":
					chiefsLeg = leg
				case "Bills":
					billsLeg = leg
				}
			}
			convey.So(chiefsLeg.BookmakerKey, convey.ShouldEqual, "bookA")
			convey.So(billsLeg.BookmakerKey, convey.ShouldEqual, "bookB")
			convey.So(chiefsLeg.StakeShare, convey.ShouldAlmostEqual, 0.4564, 1e-3)
			convey.So(billsLeg.StakeShare, convey.ShouldAlmostEqual, 0.5436, 1e-3)
		})
	})
}

func TestNoArb(t *testing.T) {
	convey.Convey("Given both books quoting -110/-110", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		ev := h2hEvent(t, now,
			map[string]float64{"A": -110, "B": -110},
			map[string]float64{"A": -110, "B": -110},
		)

		cfg := detector.Config{Markets: []odds.MarketKey{odds.MarketH2H}}
		opps := detector.Detect([]odds.Event{ev}, cfg, now)

		convey.Convey("No opportunity is emitted", func() {
			convey.So(opps, convey.ShouldHaveLength, 0)
		})
	})
}

func TestSpreadsAsymmetricLines(t *testing.T) {
	convey.Convey("Given asymmetric spread lines across two books", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		bookA := odds.Bookmaker{
			Key: "bookA",
			Markets: []odds.MarketQuote{{
				Key: odds.MarketSpreads,
				Outcomes: []odds.Outcome{
					outcome(t, "A", -110, pt(-2.5)),
					outcome(t, "B", -110, pt(2.5)),
				},
			}},
		}
		bookB := odds.Bookmaker{
			Key: "bookB",
			Markets: []odds.MarketQuote{{
				Key: odds.MarketSpreads,
				Outcomes: []odds.Outcome{
					outcome(t, "A", 100, pt(-3.0)),
					outcome(t, "B", -120, pt(3.0)),
				},
			}},
		}
		ev := odds.Event{
			SportKey:     "basketball_nba",
			CommenceTime: now.Add(time.Hour),
			HomeTeam:     "B",
			AwayTeam:     "A",
			Bookmakers:   []odds.Bookmaker{bookA, bookB},
		}

		cfg := detector.Config{Markets: []odds.MarketKey{odds.MarketSpreads}, MinBooks: 2}
		opps := detector.Detect([]odds.Event{ev}, cfg, now)

		convey.Convey("Cross-book pairing of -2.5 with +3.0 is rejected", func() {
			// Neither the -2.5/+2.5 pair (only bookA covers both sides) nor
			// the -3.0/+3.0 pair (only bookB covers both sides) has 2+
			// distinct books offering a usable price at the same point, so
			// no opportunity should be detected from cross-pairing.
			convey.So(opps, convey.ShouldHaveLength, 0)
		})
	})
}

func TestTotalsPerLineGrouping(t *testing.T) {
	convey.Convey("Given a degenerate single-book arb on one total line and an unrelated line from another book", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		bookA := odds.Bookmaker{
			Key: "bookA",
			Markets: []odds.MarketQuote{{
				Key: odds.MarketTotals,
				Outcomes: []odds.Outcome{
					outcome(t, "Over", 150, pt(45.5)),
					outcome(t, "Under", 150, pt(45.5)),
				},
			}},
		}
		bookB := odds.Bookmaker{
			Key: "bookB",
			Markets: []odds.MarketQuote{{
				Key: odds.MarketTotals,
				Outcomes: []odds.Outcome{
					outcome(t, "Over", -110, pt(50.5)),
					outcome(t, "Under", -110, pt(50.5)),
				},
			}},
		}
		ev := odds.Event{
			SportKey:     "americanfootball_nfl",
			CommenceTime: now.Add(time.Hour),
			HomeTeam:     "Bills",
			AwayTeam:     "Chiefs",
			Bookmakers:   []odds.Bookmaker{bookA, bookB},
		}

		cfg := detector.Config{Markets: []odds.MarketKey{odds.MarketTotals}, MinBooks: 1}
		opps := detector.Detect([]odds.Event{ev}, cfg, now)

		convey.Convey("The 45.5 line's own-book degenerate arb is detected and the unrelated 50.5 line does not suppress it", func() {
			convey.So(opps, convey.ShouldHaveLength, 1)

			opp := opps[0]
			convey.So(opp.TotalImpliedProbability, convey.ShouldBeLessThan, 1.0)
			for _, leg := range opp.Legs {
				convey.So(leg.BookmakerKey, convey.ShouldEqual, "bookA")
				convey.So(*leg.Point, convey.ShouldAlmostEqual, 45.5, 1e-9)
			}
		})
	})
}

func TestDeterminismUnderBookmakerShuffle(t *testing.T) {
	convey.Convey("Given an arb-producing event", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		ev := h2hEvent(t, now,
			map[string]float64{"Chiefs": 150, "Bills": -180},
			map[string]float64{"Chiefs": 120, "Bills": 110},
		)
		cfg := detector.Config{Markets: []odds.MarketKey{odds.MarketH2H}}

		baseline := detector.Detect([]odds.Event{ev}, cfg, now)

		convey.Convey("Shuffling bookmaker order does not change the output", func() {
			shuffled := ev
			shuffled.Bookmakers = append([]odds.Bookmaker(nil), ev.Bookmakers...)
			rand.New(rand.NewSource(42)).Shuffle(len(shuffled.Bookmakers), func(i, j int) {
				shuffled.Bookmakers[i], shuffled.Bookmakers[j] = shuffled.Bookmakers[j], shuffled.Bookmakers[i]
			})

			result := detector.Detect([]odds.Event{shuffled}, cfg, now)
			convey.So(result, convey.ShouldResemble, baseline)
		})

		convey.Convey("Running the detector twice on the same input returns equal results", func() {
			again := detector.Detect([]odds.Event{ev}, cfg, now)
			convey.So(again, convey.ShouldResemble, baseline)
		})
	})
}

func TestPastEventFiltered(t *testing.T) {
	convey.Convey("Given an event whose commence_time is one second in the past", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		ev := h2hEvent(t, now,
			map[string]float64{"Chiefs": 150, "Bills": -180},
			map[string]float64{"Chiefs": 120, "Bills": 110},
		)
		ev.CommenceTime = now.Add(-1 * time.Second)

		cfg := detector.Config{Markets: []odds.MarketKey{odds.MarketH2H}}
		opps := detector.Detect([]odds.Event{ev}, cfg, now)

		convey.Convey("It is filtered out", func() {
			convey.So(opps, convey.ShouldHaveLength, 0)
		})
	})
}

func TestEmptyEventsYieldsEmptyOpportunities(t *testing.T) {
	convey.Convey("Given no events", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		opps := detector.Detect(nil, detector.Config{Markets: []odds.MarketKey{odds.MarketH2H}}, now)

		convey.Convey("The result is empty", func() {
			convey.So(opps, convey.ShouldBeEmpty)
		})
	})
}

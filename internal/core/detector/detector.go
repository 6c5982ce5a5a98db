// Package detector is the arbitrage detection engine: given a set of
// normalised events, it computes per-market arbitrage opportunities and
// stake splits. It is pure over its input — no I/O, no shared state.
package detector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

// Config tunes detection thresholds.
type Config struct {
	Markets      []odds.MarketKey
	MinProfitPct float64
	MinBooks     int // default 2
}

// pointTolerance is the numeric tolerance used to pair spreads/totals lines
// as symmetric (spec.md §4.D step 2), and to cluster outcomes into the same
// point line when partitioning a market's quotes.
const pointTolerance = 1e-9

// Detect scans events for arbitrage opportunities across the configured
// markets. Output is sorted by profit_pct descending, then by event
// fingerprint for stability, and is deterministic: identical inputs always
// produce a byte-identical (same order, same legs) output.
func Detect(events []odds.Event, cfg Config, now time.Time) []odds.Opportunity {
	minBooks := cfg.MinBooks
	if minBooks <= 0 {
		minBooks = 2
	}

	var out []odds.Opportunity
	for _, ev := range events {
		if !ev.CommenceTime.After(now) {
			continue
		}
		for _, market := range cfg.Markets {
			out = append(out, detectEventMarket(ev, market, minBooks, cfg.MinProfitPct, now)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProfitPct != out[j].ProfitPct {
			return out[i].ProfitPct > out[j].ProfitPct
		}
		fi, fj := out[i].EventFingerprint(), out[j].EventFingerprint()
		if fi != fj {
			return fi < fj
		}
		return out[i].Market < out[j].Market
	})
	return out
}

// quote pairs a bookmaker key with one of its MarketQuotes.
type quote struct {
	bookmakerKey string
	mq           odds.MarketQuote
}

// lineGroup is the set of quotes contributing to one point line within a
// spreads/totals market (e.g. every book's Over/Under 45.5 quote). h2h has
// no point dimension and is always a single implicit group.
type lineGroup struct {
	id     float64
	quotes []quote
}

// detectEventMarket partitions a market's quotes into independent point
// lines (spec.md §4.D: only same-point outcomes may be paired) and
// evaluates coverage within each line separately, so a degenerate arb on
// one line is never masked by an unrelated line quoted by other books on
// the same event. h2h has no point dimension and so is a single group.
func detectEventMarket(ev odds.Event, market odds.MarketKey, minBooks int, minProfitPct float64, detectedAt time.Time) []odds.Opportunity {
	quotes := collectQuotes(ev, market)
	if len(quotes) < minBooks {
		return nil
	}

	var groups []lineGroup
	if market == odds.MarketH2H {
		groups = []lineGroup{{quotes: quotes}}
	} else {
		groups = groupByLine(quotes, market)
	}

	var out []odds.Opportunity
	for _, g := range groups {
		if opp, ok := detectGroup(ev, market, g.quotes, minBooks, minProfitPct, detectedAt); ok {
			out = append(out, opp)
		}
	}
	return out
}

// groupByLine partitions a market's quotes by point line. For totals the
// line is the literal point (Over/Under share the same point); for
// spreads it is the point's magnitude, since a book expresses one line as
// a negative point for the favourite and the numerically equal positive
// point for the underdog. Lines within pointTolerance of each other are
// merged into a single group regardless of which book introduced them.
func groupByLine(quotes []quote, market odds.MarketKey) []lineGroup {
	var groups []lineGroup
	byGroup := map[int]map[string][]odds.Outcome{} // group index -> bookmakerKey -> outcomes
	for _, q := range quotes {
		for _, oc := range q.mq.Outcomes {
			id, ok := lineID(market, oc)
			if !ok {
				continue
			}
			idx := -1
			for gi := range groups {
				if math.Abs(groups[gi].id-id) < pointTolerance {
					idx = gi
					break
				}
			}
			if idx == -1 {
				groups = append(groups, lineGroup{id: id})
				idx = len(groups) - 1
			}
			if byGroup[idx] == nil {
				byGroup[idx] = map[string][]odds.Outcome{}
			}
			byGroup[idx][q.bookmakerKey] = append(byGroup[idx][q.bookmakerKey], oc)
		}
	}

	for idx := range groups {
		// Deterministic ordering within the group regardless of map
		// iteration order: walk the original quotes and pick up this
		// group's outcomes for each book that contributed any.
		perBook := byGroup[idx]
		for _, q := range quotes {
			outs, ok := perBook[q.bookmakerKey]
			if !ok {
				continue
			}
			groups[idx].quotes = append(groups[idx].quotes, quote{
				bookmakerKey: q.bookmakerKey,
				mq:           odds.MarketQuote{Key: q.mq.Key, LastUpdate: q.mq.LastUpdate, Outcomes: outs},
			})
			delete(perBook, q.bookmakerKey) // a book appears at most once in quotes already
		}
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].id < groups[j].id })
	return groups
}

// lineID reports the point line an outcome belongs to, for grouping
// purposes. h2h outcomes have no point and are never grouped this way.
func lineID(market odds.MarketKey, oc odds.Outcome) (float64, bool) {
	if oc.Point == nil {
		return 0, false
	}
	p := *oc.Point
	if market == odds.MarketSpreads {
		p = math.Abs(p)
	}
	return p, true
}

// detectGroup evaluates one point line (or, for h2h, the whole market) for
// full coverage: every canonical outcome key must have a usable price from
// some book in the group, and at least minBooks distinct books must quote
// the line at all.
func detectGroup(ev odds.Event, market odds.MarketKey, quotes []quote, minBooks int, minProfitPct float64, detectedAt time.Time) (odds.Opportunity, bool) {
	if len(quotes) < minBooks {
		return odds.Opportunity{}, false
	}

	keys := canonicalOutcomeKeys(quotes, market)
	if len(keys) == 0 {
		return odds.Opportunity{}, false
	}

	legs := make([]odds.Leg, 0, len(keys))
	var sumProb float64
	for _, k := range keys {
		leg, ok := bestPriceForKey(ev, market, quotes, k)
		if !ok {
			// No bookmaker offers this outcome at a usable price —
			// coverage of K is incomplete, no arbitrage possible.
			return odds.Opportunity{}, false
		}
		legs = append(legs, leg)
		sumProb += leg.ImpliedProbability
	}

	if !(sumProb < 1.0) {
		return odds.Opportunity{}, false
	}

	profitPct := (1/sumProb - 1) * 100
	if profitPct < minProfitPct {
		return odds.Opportunity{}, false
	}

	for i := range legs {
		legs[i].StakeShare = legs[i].ImpliedProbability / sumProb
	}

	return odds.Opportunity{
		SportKey:                ev.SportKey,
		CommenceTime:            ev.CommenceTime,
		HomeTeam:                ev.HomeTeam,
		AwayTeam:                ev.AwayTeam,
		EventName:               fmt.Sprintf("%s @ %s", ev.AwayTeam, ev.HomeTeam),
		Market:                  market,
		Legs:                    legs,
		TotalImpliedProbability: sumProb,
		ProfitPct:               profitPct,
		DetectedAt:              detectedAt,
	}, true
}

func collectQuotes(ev odds.Event, market odds.MarketKey) []quote {
	seen := make(map[string]bool)
	var out []quote
	for _, bm := range ev.Bookmakers {
		for _, mq := range bm.Markets {
			if mq.Key != market {
				continue
			}
			if seen[bm.Key] {
				telemetry.Warnf("detector: bookmaker %s quotes market %s twice for event %s, keeping first", bm.Key, market, ev.Fingerprint())
				continue
			}
			if len(mq.Outcomes) < 2 {
				continue
			}
			seen[bm.Key] = true
			out = append(out, quote{bookmakerKey: bm.Key, mq: mq})
			break
		}
	}
	return out
}

// outcomeKey canonicalises an outcome's identity within a market: just the
// name for h2h, or (name, point) for spreads/totals.
type outcomeKey struct {
	name  string
	point float64
	hasPt bool
}

func (k outcomeKey) String() string {
	if !k.hasPt {
		return k.name
	}
	return fmt.Sprintf("%s|%.9f", k.name, k.point)
}

func canonicalOutcomeKeys(quotes []quote, market odds.MarketKey) []outcomeKey {
	var keys []outcomeKey
	for _, q := range quotes {
		for _, oc := range q.mq.Outcomes {
			k := outcomeKey{name: oc.Name}
			if market != odds.MarketH2H && oc.Point != nil {
				k.point = *oc.Point
				k.hasPt = true
			}
			if !containsKey(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].point < keys[j].point
	})
	return keys
}

func containsKey(keys []outcomeKey, k outcomeKey) bool {
	for _, existing := range keys {
		if existing.name != k.name || existing.hasPt != k.hasPt {
			continue
		}
		if !k.hasPt || math.Abs(existing.point-k.point) < pointTolerance {
			return true
		}
	}
	return false
}

// bestPriceForKey selects, across all quotes of the given market, the
// bookmaker offering the highest decimal price for outcome key k. Ties are
// broken by bookmaker key (lexicographic) for determinism.
func bestPriceForKey(ev odds.Event, market odds.MarketKey, quotes []quote, k outcomeKey) (odds.Leg, bool) {
	var best *odds.Leg
	var bestBook string

	for _, q := range quotes {
		for _, oc := range q.mq.Outcomes {
			if oc.Name != k.name {
				continue
			}
			if market != odds.MarketH2H {
				if oc.Point == nil || !k.hasPt || math.Abs(*oc.Point-k.point) >= pointTolerance {
					continue
				}
			}

			d := oc.Decimal
			if math.IsNaN(d) || d <= 0 {
				telemetry.Warnf("detector: dropping %s/%s outcome %q from bookmaker %s: non-positive/NaN decimal price %v",
					ev.Fingerprint(), market, oc.Name, q.bookmakerKey, oc.Decimal)
				continue
			}
			p, err := odds.DecimalToImpliedProb(d)
			if err != nil {
				telemetry.Warnf("detector: dropping %s/%s outcome %q from bookmaker %s: %v", ev.Fingerprint(), market, oc.Name, q.bookmakerKey, err)
				continue
			}

			better := best == nil || d > best.PriceDecimal || (d == best.PriceDecimal && q.bookmakerKey < bestBook)
			if better {
				point := oc.Point
				best = &odds.Leg{
					OutcomeName:        oc.Name,
					Point:              point,
					BookmakerKey:       q.bookmakerKey,
					PriceDisplay:       oc.Price,
					PriceDecimal:       d,
					ImpliedProbability: p,
				}
				bestBook = q.bookmakerKey
			}
		}
	}

	if best == nil {
		return odds.Leg{}, false
	}
	return *best, true
}

package oddsapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

// Wire payload shapes, matching spec.md §6's upstream JSON.

type sportPayload struct {
	Key         string `json:"key"`
	Group       string `json:"group"`
	Title       string `json:"title"`
	Active      bool   `json:"active"`
	HasOutcomes bool   `json:"has_outcomes"`
}

type eventPayload struct {
	ID           string             `json:"id"`
	SportKey     string             `json:"sport_key"`
	SportTitle   string             `json:"sport_title"`
	CommenceTime string             `json:"commence_time"`
	HomeTeam     string             `json:"home_team"`
	AwayTeam     string             `json:"away_team"`
	Bookmakers   []bookmakerPayload `json:"bookmakers"`
}

type bookmakerPayload struct {
	Key        string          `json:"key"`
	Title      string          `json:"title"`
	LastUpdate string          `json:"last_update"`
	Markets    []marketPayload `json:"markets"`
}

type marketPayload struct {
	Key        string           `json:"key"`
	LastUpdate string           `json:"last_update"`
	Outcomes   []outcomePayload `json:"outcomes"`
}

type outcomePayload struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point"`
}

// parseEvents normalises a /sports/{key}/odds response body into domain
// Events per spec.md §4.C's normalisation rules.
func parseEvents(body []byte, sportKey string, format odds.Format) ([]odds.Event, error) {
	var raw []eventPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode odds payload for %s: %v", odds.ErrInvalidPayload, sportKey, err)
	}

	events := make([]odds.Event, 0, len(raw))
	for _, ep := range raw {
		ev, ok := normaliseEvent(ep, sportKey, format)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	telemetry.Metrics.EventsFetched(len(events))
	return events, nil
}

func normaliseEvent(ep eventPayload, fallbackSportKey string, format odds.Format) (odds.Event, bool) {
	if ep.HomeTeam == "" || ep.AwayTeam == "" {
		telemetry.Warnf("oddsapi: dropping event %s: missing home/away team", ep.ID)
		return odds.Event{}, false
	}

	commence, err := parseUTCTimestamp(ep.CommenceTime)
	if err != nil {
		telemetry.Warnf("oddsapi: dropping event %s: %v", ep.ID, err)
		return odds.Event{}, false
	}

	sportKey := ep.SportKey
	if sportKey == "" {
		sportKey = fallbackSportKey
	}

	ev := odds.Event{
		ID:           ep.ID,
		SportKey:     sportKey,
		SportTitle:   ep.SportTitle,
		CommenceTime: commence,
		HomeTeam:     ep.HomeTeam,
		AwayTeam:     ep.AwayTeam,
	}

	// "treat missing bookmakers as an empty list" — spec.md §4.C
	for _, bp := range ep.Bookmakers {
		bm, ok := normaliseBookmaker(bp, format, ev.ID)
		if ok {
			ev.Bookmakers = append(ev.Bookmakers, bm)
		}
	}
	return ev, true
}

func normaliseBookmaker(bp bookmakerPayload, format odds.Format, eventID string) (odds.Bookmaker, bool) {
	if bp.Key == "" {
		return odds.Bookmaker{}, false
	}

	lastUpdate, _ := parseUTCTimestamp(bp.LastUpdate)

	bm := odds.Bookmaker{Key: bp.Key, Title: bp.Title, LastUpdate: lastUpdate}
	for _, mp := range bp.Markets {
		// "A bookmaker whose markets list contains an entry with fewer
		// than two outcomes is dropped for that market." — spec.md §4.C
		if len(mp.Outcomes) < 2 {
			telemetry.Warnf("oddsapi: dropping %s market %q for bookmaker %s (event %s): fewer than 2 outcomes",
				bp.Key, mp.Key, bp.Key, eventID)
			continue
		}

		outcomes := make([]odds.Outcome, 0, len(mp.Outcomes))
		for _, op := range mp.Outcomes {
			if op.Name == "" {
				continue
			}
			decimal, err := toDecimal(op.Price, format)
			if err != nil {
				telemetry.Warnf("oddsapi: dropping outcome %q for %s/%s (event %s): %v", op.Name, bp.Key, mp.Key, eventID, err)
				continue
			}
			outcomes = append(outcomes, odds.Outcome{
				Name:    op.Name,
				Price:   op.Price,
				Decimal: decimal,
				Point:   op.Point,
			})
		}
		if len(outcomes) < 2 {
			continue
		}

		sortOutcomes(outcomes)
		mqLastUpdate, _ := parseUTCTimestamp(mp.LastUpdate)
		bm.Markets = append(bm.Markets, odds.MarketQuote{
			Key:        odds.MarketKey(mp.Key),
			LastUpdate: mqLastUpdate,
			Outcomes:   outcomes,
		})
	}
	return bm, true
}

// sortOutcomes orders outcomes by name, or by (name, point) when points are
// present, producing a stable ordering per spec.md §4.C.
func sortOutcomes(outcomes []odds.Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Name != outcomes[j].Name {
			return outcomes[i].Name < outcomes[j].Name
		}
		pi, pj := outcomes[i].Point, outcomes[j].Point
		switch {
		case pi == nil && pj == nil:
			return false
		case pi == nil:
			return true
		case pj == nil:
			return false
		default:
			return *pi < *pj
		}
	})
}

// toDecimal converts a raw price (in the feed's configured format) to a
// decimal price the detector can compare across bookmakers.
func toDecimal(price float64, format odds.Format) (float64, error) {
	switch format {
	case odds.FormatAmerican:
		return odds.AmericanToDecimal(price)
	case odds.FormatFractional:
		// The Odds API never actually emits fractional prices as a single
		// float; this branch exists for completeness and treats the value
		// as already-decimal, since a bare float cannot encode a
		// numerator/denominator pair.
		return price, nil
	case odds.FormatDecimal, "":
		if price <= 1 {
			return 0, fmt.Errorf("%w: decimal price %.4f must be > 1", odds.ErrInvalidPrice, price)
		}
		return price, nil
	default:
		return 0, fmt.Errorf("%w: unknown odds format %q", odds.ErrInvalidPrice, format)
	}
}

// parseUTCTimestamp parses an RFC3339 timestamp and rejects naive
// (timezone-less) local times, per spec.md §4.C.
func parseUTCTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", odds.ErrInvalidPayload)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q is not RFC3339 UTC: %v", odds.ErrInvalidPayload, s, err)
	}
	return t.UTC(), nil
}

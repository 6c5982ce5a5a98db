package oddsapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/charleschow/arbfinder/internal/client/oddsapi"
	"github.com/charleschow/arbfinder/internal/core/odds"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*oddsapi.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := oddsapi.NewClient(oddsapi.Config{
		BaseURL:    srv.URL,
		APIKey:     "testkey",
		Regions:    "us",
		Markets:    "h2h",
		OddsFormat: odds.FormatAmerican,
	})
	return client, srv.Close
}

func TestGetOddsParsesSuccessResponse(t *testing.T) {
	convey.Convey("Given an upstream 200 response with one event", t, func() {
		body := `[{
			"id": "e1", "sport_key": "americanfootball_nfl", "sport_title": "NFL",
			"commence_time": "2026-02-01T18:00:00Z",
			"home_team": "Bills", "away_team": "Chiefs",
			"bookmakers": [{
				"key": "bookA", "title": "Book A", "last_update": "2026-01-01T00:00:00Z",
				"markets": [{
					"key": "h2h", "last_update": "2026-01-01T00:00:00Z",
					"outcomes": [{"name": "Chiefs", "price": 150}, {"name": "Bills", "price": -180}]
				}]
			}]
		}]`

		client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("x-requests-remaining", "499")
			w.Header().Set("x-requests-used", "1")
			w.Write([]byte(body))
		})
		defer closeFn()

		events, quota, err := client.GetOdds(context.Background(), "americanfootball_nfl")

		convey.Convey("It parses one event with decimal prices populated", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(events, convey.ShouldHaveLength, 1)
			convey.So(events[0].Bookmakers[0].Markets[0].Outcomes, convey.ShouldHaveLength, 2)
			// Outcomes are sorted by name: Bills (-180), then Chiefs (+150).
			convey.So(events[0].Bookmakers[0].Markets[0].Outcomes[1].Decimal, convey.ShouldAlmostEqual, 2.5, 1e-9)
			convey.So(quota.Remaining, convey.ShouldEqual, 499)
		})
	})
}

func TestGetOddsClassifiesErrors(t *testing.T) {
	convey.Convey("Given upstream error responses", t, func() {
		convey.Convey("401 is classified as AuthError", func() {
			client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})
			defer closeFn()

			_, _, err := client.GetOdds(context.Background(), "sport")
			var authErr *odds.AuthError
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(asAuthError(err, &authErr), convey.ShouldBeTrue)
		})

		convey.Convey("422 is classified as BadRequestError", func() {
			client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
			})
			defer closeFn()

			_, _, err := client.GetOdds(context.Background(), "sport")
			_, ok := err.(*odds.BadRequestError)
			convey.So(ok, convey.ShouldBeTrue)
		})

		convey.Convey("429 is classified as QuotaExhaustedError with Retry-After honoured", func() {
			client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
			})
			defer closeFn()

			_, _, err := client.GetOdds(context.Background(), "sport")
			quotaErr, ok := err.(*odds.QuotaExhaustedError)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(quotaErr.ResetAt.IsZero(), convey.ShouldBeFalse)
		})

		convey.Convey("5xx is classified as TransientError", func() {
			client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			})
			defer closeFn()

			_, _, err := client.GetOdds(context.Background(), "sport")
			_, ok := err.(*odds.TransientError)
			convey.So(ok, convey.ShouldBeTrue)
		})
	})
}

func asAuthError(err error, target **odds.AuthError) bool {
	if e, ok := err.(*odds.AuthError); ok {
		*target = e
		return true
	}
	return false
}

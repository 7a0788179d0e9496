package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/config"
	"github.com/finquest/portfolio-engine/internal/game"
	"github.com/finquest/portfolio-engine/internal/pricefeed"
	"github.com/finquest/portfolio-engine/internal/store"
	"github.com/finquest/portfolio-engine/internal/trade"
)

func TestGameConfig_FromSettings(t *testing.T) {
	gc := config.GameConfig{
		InitialCash:    "25000",
		SaveTimeout:    "750ms",
		SaveInterval:   "2s",
		SaveBurst:      3,
		HistoricalSeed: 7,
		IdleTimeout:    "10m",
	}
	got := gameConfig(gc)
	if !got.InitialCash.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("InitialCash = %s, want 25000", got.InitialCash)
	}
	if got.SaveTimeout != 750*time.Millisecond || got.SaveInterval != 2*time.Second {
		t.Errorf("timeouts = %s/%s", got.SaveTimeout, got.SaveInterval)
	}
	if got.SaveBurst != 3 || got.HistoricalSeed != 7 {
		t.Errorf("burst/seed = %d/%d", got.SaveBurst, got.HistoricalSeed)
	}
	if got.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout = %s, want 10m", got.IdleTimeout)
	}
}

func TestRouter_HealthAndAPI(t *testing.T) {
	market := pricefeed.NewWalk(game.FantasyOpening, decimal.Zero, 1)
	games, err := game.NewRegistry(store.NewMemoryStore(), market, game.DefaultConfig())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r := newRouter(trade.NewWSHub(), trade.NewService(games))

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/quotes", http.StatusOK},
		{http.MethodGet, "/api/v1/periods", http.StatusOK},
		{http.MethodGet, "/api/v1/players/alice", http.StatusOK},
		{http.MethodOptions, "/api/v1/quotes", http.StatusNoContent},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
	if got := body(r, "/health"); got != `{"status":"ok","service":"portfolio-engine","ws_clients":0}` {
		t.Errorf("health body = %q", got)
	}
}

func body(h http.Handler, path string) string {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Body.String()
}

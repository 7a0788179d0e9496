package pricefeed

import (
	"context"
	"log/slog"
	"time"

	"github.com/finquest/portfolio-engine/internal/model"
)

// DefaultTickInterval matches the refresh rate of the live market view.
const DefaultTickInterval = 5 * time.Second

// Ticker drives a Walk on a fixed wall-clock interval and hands every batch
// of quotes to the publish callback.
type Ticker struct {
	walk     *Walk
	interval time.Duration
	publish  func([]model.PriceQuote)
}

// NewTicker creates a driver for w. A nil publish discards quotes.
func NewTicker(w *Walk, interval time.Duration, publish func([]model.PriceQuote)) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if publish == nil {
		publish = func([]model.PriceQuote) {}
	}
	return &Ticker{walk: w, interval: interval, publish: publish}
}

// Run ticks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	slog.Info("price ticker started", "interval", t.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("price ticker stopped")
			return
		case <-tk.C:
			t.publish(t.walk.Tick())
		}
	}
}

// Start runs the ticker on its own goroutine. The returned stop function
// cancels it and waits for the goroutine to exit.
func (t *Ticker) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

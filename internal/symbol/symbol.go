// Package symbol handles ticker symbol parsing, normalization and validation
// for the simulated stock universes.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches: {ROOT}[.{CLASS}]
// Example: AAPL, BRK.B
var tickerRegex = regexp.MustCompile(`^([A-Z]{1,5})(?:\.([A-Z]{1,2}))?$`)

var (
	ErrInvalidSymbol = errors.New("symbol: invalid ticker format")
	ErrUnknownSymbol = errors.New("symbol: not listed")
)

// Symbol is a parsed ticker.
type Symbol struct {
	Ticker string `json:"ticker"`
	Root   string `json:"root"`
	Class  string `json:"class,omitempty"` // share class, e.g. "B" in BRK.B
}

// Parse normalizes (trim, upper-case) and validates a ticker symbol.
func Parse(raw string) (*Symbol, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected 1-5 letters with optional .CLASS)",
			ErrInvalidSymbol, raw)
	}
	return &Symbol{
		Ticker: ticker,
		Root:   matches[1],
		Class:  matches[2],
	}, nil
}

// Normalize returns the canonical ticker for raw, or an error if it is not
// a valid symbol.
func Normalize(raw string) (string, error) {
	s, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return s.Ticker, nil
}

// Universe is a fixed set of tradable symbols.
type Universe map[string]bool

// NewUniverse builds a universe from tickers. Invalid tickers are rejected.
func NewUniverse(tickers ...string) (Universe, error) {
	u := make(Universe, len(tickers))
	for _, t := range tickers {
		n, err := Normalize(t)
		if err != nil {
			return nil, err
		}
		u[n] = true
	}
	return u, nil
}

// Resolve normalizes raw and checks that it is listed in the universe.
func (u Universe) Resolve(raw string) (string, error) {
	ticker, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if !u[ticker] {
		return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, ticker)
	}
	return ticker, nil
}

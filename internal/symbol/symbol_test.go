package symbol

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	s, err := Parse(" brk.b ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Ticker != "BRK.B" {
		t.Errorf("expected ticker=BRK.B, got %s", s.Ticker)
	}
	if s.Root != "BRK" {
		t.Errorf("expected root=BRK, got %s", s.Root)
	}
	if s.Class != "B" {
		t.Errorf("expected class=B, got %s", s.Class)
	}
}

func TestParse_Plain(t *testing.T) {
	s, err := Parse("GOOGL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Class != "" {
		t.Errorf("expected empty class, got %s", s.Class)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"TOOLONG",
		"AB1",
		"AAPL.",
		"AAPL.XYZ",
		"A-B",
	}
	for _, ticker := range tests {
		_, err := Parse(ticker)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("expected ErrInvalidSymbol for %q, got %v", ticker, err)
		}
	}
}

func TestUniverse_Resolve(t *testing.T) {
	u, err := NewUniverse("AAPL", "msft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := u.Resolve("msft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "MSFT" {
		t.Errorf("expected MSFT, got %s", got)
	}

	if _, err := u.Resolve("TSLA"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := u.Resolve("??"); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestNewUniverse_RejectsInvalid(t *testing.T) {
	if _, err := NewUniverse("AAPL", "not a ticker"); err == nil {
		t.Error("expected error for invalid ticker in universe")
	}
}

package game

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/pricefeed"
)

// FantasyOpening is the opening price of every symbol in the fantasy market.
var FantasyOpening = map[string]decimal.Decimal{
	"AAPL":  decimal.RequireFromString("175.43"),
	"GOOGL": decimal.RequireFromString("2847.63"),
	"MSFT":  decimal.RequireFromString("378.85"),
	"AMZN":  decimal.RequireFromString("3342.88"),
	"TSLA":  decimal.RequireFromString("248.42"),
	"NVDA":  decimal.RequireFromString("875.28"),
	"META":  decimal.RequireFromString("485.73"),
	"NFLX":  decimal.RequireFromString("487.83"),
}

// Period is one historical era of the time-traveler game. Prices are
// simulated from the period drift and each instrument's volatility; the
// S&P 500 benchmark is interpolated linearly between its endpoints.
type Period struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	StartYear   int                    `json:"start_year"`
	EndYear     int                    `json:"end_year"`
	SP500Start  decimal.Decimal        `json:"sp500_start"`
	SP500End    decimal.Decimal        `json:"sp500_end"`
	Drift       decimal.Decimal        `json:"drift"`
	MajorEvents []string               `json:"major_events"`
	Instruments []pricefeed.Instrument `json:"instruments"`
	Events      map[int][]string       `json:"-"`
}

// Years returns the number of years between start and end.
func (p Period) Years() int {
	return p.EndYear - p.StartYear
}

// SP500At returns the interpolated benchmark level for year.
func (p Period) SP500At(year int) decimal.Decimal {
	span := p.Years()
	if span <= 0 || year <= p.StartYear {
		return p.SP500Start
	}
	if year >= p.EndYear {
		return p.SP500End
	}
	frac := decimal.NewFromInt(int64(year - p.StartYear)).Div(decimal.NewFromInt(int64(span)))
	return p.SP500Start.Add(p.SP500End.Sub(p.SP500Start).Mul(frac)).Round(2)
}

// EventsIn returns the headlines for year, never nil.
func (p Period) EventsIn(year int) []string {
	ev := p.Events[year]
	if ev == nil {
		return []string{}
	}
	return append([]string(nil), ev...)
}

// Feed returns the price feed for the period.
func (p Period) Feed(seed uint64) *pricefeed.HistoricalFeed {
	return pricefeed.NewHistoricalFeed(seed, p.Drift, p.Instruments)
}

func instrument(sym, name, base, vol string) pricefeed.Instrument {
	return pricefeed.Instrument{
		Symbol:     sym,
		Name:       name,
		BasePrice:  decimal.RequireFromString(base),
		Volatility: decimal.RequireFromString(vol),
	}
}

var periods = []Period{
	{
		ID:          "dotcom-boom",
		Name:        "Dot-com Boom (1995-2000)",
		Description: "Experience the rise and fall of internet stocks during the dot-com bubble.",
		StartYear:   1995,
		EndYear:     2000,
		SP500Start:  decimal.NewFromInt(615),
		SP500End:    decimal.NewFromInt(1469),
		Drift:       decimal.RequireFromString("0.3"),
		MajorEvents: []string{
			"1995: Netscape IPO launches internet investing",
			"1997: Amazon goes public",
			"1998: Google founded",
			"1999: Day trading becomes popular",
			"2000: Dot-com bubble bursts",
		},
		Instruments: []pricefeed.Instrument{
			instrument("AMZN", "Amazon", "18", "0.8"),
			instrument("MSFT", "Microsoft", "39", "0.6"),
			instrument("AAPL", "Apple", "4", "0.7"),
			instrument("ORCL", "Oracle", "15", "0.5"),
			instrument("CSCO", "Cisco", "8", "0.9"),
		},
		Events: map[int][]string{
			1996: {"Internet usage explodes"},
			1997: {"Amazon IPO raises $54M"},
			1998: {"Google founded in garage"},
			1999: {"Day trading mania peaks"},
			2000: {"Dot-com bubble bursts"},
		},
	},
	{
		ID:          "financial-crisis",
		Name:        "Financial Crisis Era (2005-2010)",
		Description: "Navigate the housing bubble, financial crisis, and market recovery.",
		StartYear:   2005,
		EndYear:     2010,
		SP500Start:  decimal.NewFromInt(1248),
		SP500End:    decimal.NewFromInt(1257),
		Drift:       decimal.RequireFromString("-0.1"),
		MajorEvents: []string{
			"2005: Housing market peaks",
			"2007: Subprime crisis begins",
			"2008: Lehman Brothers collapses",
			"2009: Market hits bottom",
			"2010: Recovery begins",
		},
		Instruments: []pricefeed.Instrument{
			instrument("JPM", "JPMorgan Chase", "43", "0.7"),
			instrument("BAC", "Bank of America", "47", "0.9"),
			instrument("GS", "Goldman Sachs", "134", "0.8"),
			instrument("XOM", "ExxonMobil", "56", "0.6"),
			instrument("GE", "General Electric", "35", "0.7"),
		},
		Events: map[int][]string{
			2006: {"Housing prices peak"},
			2007: {"Subprime crisis emerges"},
			2008: {"Lehman Brothers fails"},
			2009: {"Market bottoms out"},
			2010: {"Recovery begins"},
		},
	},
	{
		ID:          "tech-recovery",
		Name:        "Tech Recovery (2010-2015)",
		Description: "Ride the wave of mobile technology and social media growth.",
		StartYear:   2010,
		EndYear:     2015,
		SP500Start:  decimal.NewFromInt(1257),
		SP500End:    decimal.NewFromInt(2043),
		Drift:       decimal.RequireFromString("0.15"),
		MajorEvents: []string{
			"2010: iPad launches",
			"2011: LinkedIn IPO",
			"2012: Facebook IPO",
			"2013: Twitter IPO",
			"2014: Mobile-first investing",
		},
		Instruments: []pricefeed.Instrument{
			instrument("AAPL", "Apple", "27", "0.5"),
			instrument("GOOGL", "Google", "307", "0.4"),
			instrument("FB", "Facebook", "38", "0.8"),
			instrument("NFLX", "Netflix", "53", "0.9"),
			instrument("TSLA", "Tesla", "17", "1.2"),
		},
		Events: map[int][]string{
			2011: {"LinkedIn goes public"},
			2012: {"Facebook IPO"},
			2013: {"Twitter IPO"},
			2014: {"Mobile dominates"},
			2015: {"Tech stocks soar"},
		},
	},
}

// Periods returns the period catalog in display order.
func Periods() []Period {
	return append([]Period(nil), periods...)
}

// LookupPeriod returns the period with id.
func LookupPeriod(id string) (Period, error) {
	for _, p := range periods {
		if p.ID == id {
			return p, nil
		}
	}
	return Period{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, id)
}

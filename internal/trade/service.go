// Package trade provides the HTTP handlers for both games: live quotes,
// fantasy trading, time-traveler runs and saved session history.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/game"
	"github.com/finquest/portfolio-engine/internal/ledger"
	"github.com/finquest/portfolio-engine/internal/model"
	"github.com/finquest/portfolio-engine/internal/pricefeed"
	"github.com/finquest/portfolio-engine/internal/symbol"
	"github.com/finquest/portfolio-engine/internal/valuation"
)

// Service serves the game API on top of a session registry.
type Service struct {
	games *game.Registry
}

// NewService creates a new trade service.
func NewService(games *game.Registry) *Service {
	return &Service{games: games}
}

// Mount registers the API routes on r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/quotes", s.ListQuotes)
	r.Get("/quotes/{symbol}", s.GetQuote)

	r.Route("/fantasy/{ownerID}", func(r chi.Router) {
		r.Get("/", s.GetFantasy)
		r.Post("/trade", s.FantasyTrade)
		r.Post("/reset", s.FantasyReset)
	})

	r.Get("/periods", s.ListPeriods)
	r.Route("/timetravel/{ownerID}", func(r chi.Router) {
		r.Get("/", s.GetTimeTravel)
		r.Post("/start", s.StartTimeTravel)
		r.Post("/buy", s.TimeTravelBuy)
		r.Post("/sell", s.TimeTravelSell)
		r.Post("/advance", s.AdvanceTimeTravel)
		r.Post("/reset", s.ResetTimeTravel)
	})

	r.Get("/sessions/{ownerID}/{gameID}", s.ListSessions)
	r.Get("/players/{ownerID}", s.GetPlayer)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /fantasy/{ownerID}/trade.
type TradeRequest struct {
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`     // "buy" or "sell"
	Quantity decimal.Decimal `json:"quantity"` // whole shares
}

// TradeResponse is returned from a successful trade.
type TradeResponse struct {
	Trade      model.Trade         `json:"trade"`
	Portfolio  model.Portfolio     `json:"portfolio"`
	Valuation  valuation.Valuation `json:"valuation"`
	SaveStatus game.SaveStatus     `json:"save_status"`
}

// StartRequest is the JSON body for POST /timetravel/{ownerID}/start.
type StartRequest struct {
	Period string `json:"period"`
}

// BuyRequest is the JSON body for POST /timetravel/{ownerID}/buy.
type BuyRequest struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"` // cash to invest
}

// SellRequest is the JSON body for POST /timetravel/{ownerID}/sell.
type SellRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

// TimeTravelTradeResponse is returned from a time-traveler buy or sell.
type TimeTravelTradeResponse struct {
	Trade model.Trade         `json:"trade"`
	State game.TimeTravelView `json:"state"`
}

// AdvanceResponse is returned from POST /timetravel/{ownerID}/advance.
type AdvanceResponse struct {
	Point game.HistoryPoint   `json:"point"`
	State game.TimeTravelView `json:"state"`
}

// --- Quotes ---

// ListQuotes handles GET /api/v1/quotes
func (s *Service) ListQuotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.games.Market().Quotes())
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := symbol.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	q, err := s.games.Market().Quote(sym)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// --- Fantasy trading ---

// GetFantasy handles GET /api/v1/fantasy/{ownerID}
func (s *Service) GetFantasy(w http.ResponseWriter, r *http.Request) {
	f, err := s.games.Fantasy(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	v, err := f.View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// FantasyTrade handles POST /api/v1/fantasy/{ownerID}/trade
func (s *Service) FantasyTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	f, err := s.games.Fantasy(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	t, err := f.Trade(req.Side, req.Symbol, req.Quantity)
	if err != nil {
		writeFailure(w, err)
		return
	}

	v, err := f.View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{
		Trade:      t,
		Portfolio:  v.Portfolio,
		Valuation:  v.Valuation,
		SaveStatus: v.SaveStatus,
	})
}

// FantasyReset handles POST /api/v1/fantasy/{ownerID}/reset
func (s *Service) FantasyReset(w http.ResponseWriter, r *http.Request) {
	f, err := s.games.Fantasy(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	f.Reset()

	v, err := f.View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- Time traveler ---

// ListPeriods handles GET /api/v1/periods
func (s *Service) ListPeriods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, game.Periods())
}

// StartTimeTravel handles POST /api/v1/timetravel/{ownerID}/start
func (s *Service) StartTimeTravel(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Period == "" {
		writeError(w, "period is required", http.StatusBadRequest)
		return
	}

	v, err := s.games.TimeTravel(chi.URLParam(r, "ownerID")).Start(req.Period)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetTimeTravel handles GET /api/v1/timetravel/{ownerID}
func (s *Service) GetTimeTravel(w http.ResponseWriter, r *http.Request) {
	v, err := s.games.TimeTravel(chi.URLParam(r, "ownerID")).View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// TimeTravelBuy handles POST /api/v1/timetravel/{ownerID}/buy
func (s *Service) TimeTravelBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tt := s.games.TimeTravel(chi.URLParam(r, "ownerID"))
	t, err := tt.Buy(req.Symbol, req.Amount)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.writeTimeTravelTrade(w, tt, t)
}

// TimeTravelSell handles POST /api/v1/timetravel/{ownerID}/sell
func (s *Service) TimeTravelSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tt := s.games.TimeTravel(chi.URLParam(r, "ownerID"))
	t, err := tt.Sell(req.Symbol, req.Quantity)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.writeTimeTravelTrade(w, tt, t)
}

func (s *Service) writeTimeTravelTrade(w http.ResponseWriter, tt *game.TimeTravel, t model.Trade) {
	v, err := tt.View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimeTravelTradeResponse{Trade: t, State: v})
}

// AdvanceTimeTravel handles POST /api/v1/timetravel/{ownerID}/advance
func (s *Service) AdvanceTimeTravel(w http.ResponseWriter, r *http.Request) {
	tt := s.games.TimeTravel(chi.URLParam(r, "ownerID"))
	point, err := tt.Advance()
	if err != nil {
		writeFailure(w, err)
		return
	}
	v, err := tt.View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceResponse{Point: point, State: v})
}

// ResetTimeTravel handles POST /api/v1/timetravel/{ownerID}/reset
func (s *Service) ResetTimeTravel(w http.ResponseWriter, r *http.Request) {
	tt := s.games.TimeTravel(chi.URLParam(r, "ownerID"))
	tt.Reset()
	v, err := tt.View()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- Sessions ---

// ListSessions handles GET /api/v1/sessions/{ownerID}/{gameID}
// Returns saved sessions most recent first, optionally capped by ?limit=N.
func (s *Service) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := s.games.History(r.Context(), chi.URLParam(r, "ownerID"), chi.URLParam(r, "gameID"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetPlayer handles GET /api/v1/players/{ownerID}
// Returns the XP the owner has earned from completed time-traveler runs.
func (s *Service) GetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.games.Player(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Responses ---

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, symbol.ErrInvalidSymbol),
		errors.Is(err, game.ErrInvalidSide):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNoSuchHolding),
		errors.Is(err, symbol.ErrUnknownSymbol),
		errors.Is(err, pricefeed.ErrPriceUnavailable),
		errors.Is(err, game.ErrUnknownPeriod),
		errors.Is(err, game.ErrUnknownGame):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, game.ErrNotStarted),
		errors.Is(err, game.ErrGameComplete):
		return http.StatusConflict
	case errors.Is(err, game.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with its mapped status. Unexpected errors are
// logged and hidden from the client.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "err", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/predictions/internal/auth"
	"github.com/xtrntr/predictions/internal/exchange"
	"github.com/xtrntr/predictions/internal/models"
)

type contextKey string

const userKey contextKey = "username"

// HistoryStore reads archived market history
type HistoryStore interface {
	GetMarketTrades(ctx context.Context, marketID string) ([]models.Trade, error)
	GetSettlements(ctx context.Context, marketID string) (map[string]decimal.Decimal, error)
}

// Handler contains dependencies for HTTP handlers.
// History is nil when no archive is configured.
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	History     HistoryStore
	resolvers   map[string]bool
	log         *zap.SugaredLogger
}

// NewHandler creates a new handler. When resolvers is non-empty only those
// users may resolve markets.
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, resolvers []string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	allowed := make(map[string]bool, len(resolvers))
	for _, r := range resolvers {
		allowed[r] = true
	}
	return &Handler{Exchange: ex, AuthService: authService, resolvers: allowed, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeExchangeError maps engine errors onto HTTP status codes
func (h *Handler) writeExchangeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrMarketNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, exchange.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInvalidOutcome),
		errors.Is(err, exchange.ErrInvalidMarket):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorw("unexpected exchange error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// UserFromContext returns the authenticated username set by JWTAuthMiddleware
func UserFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(userKey).(string)
	return username, ok && username != ""
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUserExists) {
			writeError(w, http.StatusConflict, "Username already taken")
			return
		}
		h.log.Warnw("registration failed", "username", req.Username, "error", err)
		writeError(w, http.StatusBadRequest, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Errorw("login failed", "username", req.Username, "error", err)
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		username, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListMarkets returns every market in creation order
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.ListMarkets())
}

// GetMarket returns the snapshot of one market
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Exchange.GetMarketSnapshot(chi.URLParam(r, "id"))
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CreateMarket opens a new market for a question
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snap, err := h.Exchange.CreateMarket(req.Question)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type orderResponse struct {
	Order   models.Order          `json:"order"`
	Trades  []models.Trade        `json:"trades"`
	Resting *models.Order         `json:"resting,omitempty"`
	Market  models.MarketSnapshot `json:"market"`
}

// PlaceOrder handles order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	username, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Direction string          `json:"direction"`
		Side      string          `json:"side"`
		Price     decimal.Decimal `json:"price"`
		Amount    int64           `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side := models.Yes
	if req.Side != "" {
		side = models.Side(strings.ToUpper(req.Side))
	}

	res, err := h.Exchange.SubmitOrder(chi.URLParam(r, "id"), exchange.OrderRequest{
		UserID:    username,
		Direction: models.Direction(strings.ToUpper(req.Direction)),
		Side:      side,
		Price:     req.Price,
		Amount:    req.Amount,
	})
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}

	trades := res.Trades
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		Order:   res.Order,
		Trades:  trades,
		Resting: res.Resting,
		Market:  res.Market,
	})
}

// ResolveMarket settles a market at the given outcome
func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	username, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if len(h.resolvers) > 0 && !h.resolvers[username] {
		writeError(w, http.StatusForbidden, "Not allowed to resolve markets")
		return
	}

	var req struct {
		Outcome *decimal.Decimal `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "Outcome required")
		return
	}

	marketID := chi.URLParam(r, "id")
	res, err := h.Exchange.ResolveMarket(marketID, *req.Outcome)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"market_id":      marketID,
		"outcome":        req.Outcome,
		"final_balances": res.FinalBalances,
		"market":         res.Market,
	})
}

// GetAccount returns the caller's account in a market
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	username, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	marketID := chi.URLParam(r, "id")
	acct, err := h.Exchange.GetAccount(marketID, username)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"market_id": marketID,
		"user_id":   username,
		"balance":   acct.Balance,
		"position":  acct.Position,
	})
}

// GetHistory returns the archived trades and final balances of a market.
// Archived markets remain readable after a restart.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotFound, "History not archived")
		return
	}

	marketID := chi.URLParam(r, "id")
	trades, err := h.History.GetMarketTrades(r.Context(), marketID)
	if err != nil {
		h.log.Errorw("failed to read trade history", "market_id", marketID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	balances, err := h.History.GetSettlements(r.Context(), marketID)
	if err != nil {
		h.log.Errorw("failed to read settlements", "market_id", marketID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"market_id":      marketID,
		"trades":         trades,
		"final_balances": balances,
	})
}

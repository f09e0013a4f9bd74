package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/events"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Router      *exchange.Router
	Catalog     *catalog.Service
	AuthService *auth.AuthService
	Hub         *events.Hub
	Metrics     http.Handler
	Logger      *zap.Logger
}

// NewHandler creates a new handler. hub and metrics may be nil, which
// disables /ws and /metrics.
func NewHandler(router *exchange.Router, cat *catalog.Service, authService *auth.AuthService,
	hub *events.Hub, metrics http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Router:      router,
		Catalog:     cat,
		AuthService: authService,
		Hub:         hub,
		Metrics:     metrics,
		Logger:      logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// UserIDFromContext returns the authenticated user id set by JWTAuthMiddleware
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
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
		if errors.Is(err, catalog.ErrExists) {
			writeError(w, http.StatusConflict, "Username already taken")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to register user: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Name,
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

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceOrder submits an order for matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Item     string   `json:"item"`
		Side     string   `json:"side"`
		Kind     string   `json:"kind"`
		Price    *float64 `json:"price"`
		Quantity int      `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side, err := models.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Side must be 'BUY' or 'SELL'")
		return
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Kind must be 'AT_PRICE' or 'OPEN'")
		return
	}
	item, err := h.Catalog.ResolveItem(r.Context(), req.Item)
	if err != nil {
		h.notFoundOrError(w, err, "Item not found")
		return
	}

	order, err := h.Router.Submit(r.Context(), exchange.SubmitRequest{
		UserID:   userID,
		ItemID:   item.ID,
		Side:     side,
		Kind:     kind,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrInvalidOrder) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error("failed to submit order", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder cancels one of the caller's open orders
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.Router.Order(r.Context(), orderID)
	if err != nil {
		h.notFoundOrError(w, err, "Order not found")
		return
	}
	if order.UserID != userID {
		writeError(w, http.StatusForbidden, "Order belongs to another user")
		return
	}

	cancelled, err := h.Router.Cancel(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("failed to cancel order", zap.Int64("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to cancel order")
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "Order is not open")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Order cancelled"})
}

// CreateItem adds an item to the catalog
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.Catalog.CreateItem(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error("failed to create item", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create item")
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

// GetOrderBook returns an item's open orders split by side
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	item, err := h.Catalog.ResolveItem(r.Context(), chi.URLParam(r, "item"))
	if err != nil {
		h.notFoundOrError(w, err, "Item not found")
		return
	}

	orders, err := h.Router.OrderBook(r.Context(), item.ID)
	if err != nil {
		h.Logger.Error("failed to load order book", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve order book")
		return
	}

	bids, asks := []models.Order{}, []models.Order{}
	for _, o := range orders {
		if o.Side == models.Buy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item":      item,
		"bids":      bids,
		"asks":      asks,
		"unmatched": len(orders),
	})
}

// GetTradeHistory returns an item's trades, newest first, with their average price
func (h *Handler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	item, err := h.Catalog.ResolveItem(r.Context(), chi.URLParam(r, "item"))
	if err != nil {
		h.notFoundOrError(w, err, "Item not found")
		return
	}

	trades, err := h.Router.TradeHistory(r.Context(), item.ID)
	if err != nil {
		h.Logger.Error("failed to load trades", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}
	avg, err := h.Router.AverageTradePrice(r.Context(), item.ID)
	if err != nil {
		h.Logger.Error("failed to load average price", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item":          item,
		"trades":        trades,
		"average_price": avg,
	})
}

// GetStats returns marketplace-wide counters
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	trades, err := h.Router.TotalExecutedTrades(r.Context())
	if err != nil {
		h.Logger.Error("failed to count trades", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	open, err := h.Router.TotalUnmatchedOrders(r.Context())
	if err != nil {
		h.Logger.Error("failed to count open orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"total_executed_trades":  trades,
		"total_unmatched_orders": open,
	})
}

func (h *Handler) notFoundOrError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, exchange.ErrNotFound) {
		writeError(w, http.StatusNotFound, msg)
		return
	}
	h.Logger.Error("lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error")
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/events"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/memstore"
	"github.com/xtrntr/marketplace/internal/metrics"
	"github.com/xtrntr/marketplace/internal/models"
)

type testEnv struct {
	store   *memstore.Store
	router  *exchange.Router
	auth    *auth.AuthService
	catalog *catalog.Service
	hub     *events.Hub
	handler http.Handler
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	hub := events.NewHub()
	m := metrics.New()
	router := exchange.NewRouter(store, exchange.RouterOptions{
		Listener: hubListener{hub},
		Recorder: m,
	})
	cat := catalog.NewService(store, nil)
	authService := auth.NewAuthService(cat, "test-secret")
	h := NewHandler(router, cat, authService, hub, m.Handler(), nil)
	return &testEnv{
		store:   store,
		router:  router,
		auth:    authService,
		catalog: cat,
		hub:     hub,
		handler: h.Routes(),
	}
}

// hubListener publishes straight to the hub, skipping the dispatcher queue
type hubListener struct{ hub *events.Hub }

func (l hubListener) OnTrade(trade models.Trade) {
	l.hub.Publish(context.Background(), trade)
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	_, err := e.auth.Register(ctx, username, "testpass")
	require.NoError(t, err)
	token, err := e.auth.Login(ctx, username, "testpass")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var response map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	}
	return w, response
}

func TestHandler_Register(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectedBody   map[string]interface{}
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusCreated,
			expectedBody: map[string]interface{}{
				"id":       float64(1), // JSON numbers are float64
				"username": "testuser",
			},
		},
		{
			name: "Duplicate",
			requestBody: map[string]interface{}{
				"username": "TESTUSER",
				"password": "other",
			},
			expectedStatus: http.StatusConflict,
			expectedBody: map[string]interface{}{
				"error": "Username already taken",
			},
		},
		{
			name: "Missing Password",
			requestBody: map[string]interface{}{
				"username": "testuser",
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: map[string]interface{}{
				"error": "Username and password required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, http.MethodPost, "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, response)
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := setup(t)
	_, err := env.auth.Register(context.Background(), "testuser", "testpass")
	require.NoError(t, err)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectToken    bool
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusOK,
			expectToken:    true,
		},
		{
			name: "Invalid Credentials",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "wrongpass",
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, http.MethodPost, "/auth/login", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectToken {
				assert.NotEmpty(t, response["token"])
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	env := setup(t)

	w, _ := env.do(t, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.do(t, http.MethodGet, "/stats", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_PlaceOrder(t *testing.T) {
	env := setup(t)
	token := env.login(t, "testuser")
	_, err := env.catalog.CreateItem(context.Background(), "Replica A")
	require.NoError(t, err)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectedError  string
	}{
		{
			name: "Success - At Price Buy",
			requestBody: map[string]interface{}{
				"item": "Replica A", "side": "buy", "kind": "at_price", "price": 100.0, "quantity": 1,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Success - Open Sell By Item ID",
			requestBody: map[string]interface{}{
				"item": "1", "side": "SELL", "kind": "OPEN", "quantity": 2,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Invalid Side",
			requestBody: map[string]interface{}{
				"item": "Replica A", "side": "hold", "kind": "OPEN", "quantity": 1,
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Side must be 'BUY' or 'SELL'",
		},
		{
			name: "Invalid Kind",
			requestBody: map[string]interface{}{
				"item": "Replica A", "side": "BUY", "kind": "market", "quantity": 1,
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Kind must be 'AT_PRICE' or 'OPEN'",
		},
		{
			name: "At Price Without Price",
			requestBody: map[string]interface{}{
				"item": "Replica A", "side": "BUY", "kind": "AT_PRICE", "quantity": 1,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Zero Quantity",
			requestBody: map[string]interface{}{
				"item": "Replica A", "side": "BUY", "kind": "OPEN", "quantity": 0,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Unknown Item",
			requestBody: map[string]interface{}{
				"item": "Replica Z", "side": "BUY", "kind": "OPEN", "quantity": 1,
			},
			expectedStatus: http.StatusNotFound,
			expectedError:  "Item not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, http.MethodPost, "/orders", token, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusCreated {
				assert.Equal(t, "OPEN", response["status"])
				assert.Equal(t, float64(1), response["user_id"])
				return
			}
			assert.Contains(t, response, "error")
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, response["error"])
			}
		})
	}
}

func TestHandler_TradeFlow(t *testing.T) {
	env := setup(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	w, item := env.do(t, http.MethodPost, "/items", alice, map[string]interface{}{"name": "Replica A"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Replica A", item["name"])

	w, buy := env.do(t, http.MethodPost, "/orders", alice, map[string]interface{}{
		"item": "Replica A", "side": "BUY", "kind": "AT_PRICE", "price": 1000.0, "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "OPEN", buy["status"])

	w, book := env.do(t, http.MethodGet, "/items/Replica%20A/orderbook", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, book["bids"], 1)
	assert.Len(t, book["asks"], 0)
	assert.Equal(t, float64(1), book["unmatched"])

	w, sell := env.do(t, http.MethodPost, "/orders", bob, map[string]interface{}{
		"item": "Replica A", "side": "SELL", "kind": "AT_PRICE", "price": 950.0, "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "FILLED", sell["status"])

	w, history := env.do(t, http.MethodGet, "/items/1/trades", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	trades, ok := history["trades"].([]interface{})
	require.True(t, ok)
	require.Len(t, trades, 1)
	assert.Equal(t, 1000.0, trades[0].(map[string]interface{})["price"])
	assert.Equal(t, 1000.0, history["average_price"])

	w, stats := env.do(t, http.MethodGet, "/stats", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), stats["total_executed_trades"])
	assert.Equal(t, float64(0), stats["total_unmatched_orders"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "marketplace_trades_total")
}

func TestHandler_GetOrderBook_UnknownItem(t *testing.T) {
	env := setup(t)
	token := env.login(t, "testuser")

	w, response := env.do(t, http.MethodGet, "/items/missing/orderbook", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Item not found", response["error"])
}

func TestHandler_CancelOrder(t *testing.T) {
	env := setup(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	_, err := env.catalog.CreateItem(context.Background(), "Replica A")
	require.NoError(t, err)

	order, err := env.router.Submit(context.Background(), exchange.SubmitRequest{
		UserID: 1, ItemID: 1, Side: models.Buy, Kind: models.AtPrice, Price: models.PriceOf(100), Quantity: 1,
	})
	require.NoError(t, err)
	path := fmt.Sprintf("/orders/%d", order.ID)

	tests := []struct {
		name           string
		token          string
		path           string
		expectedStatus int
	}{
		{"Invalid ID", alice, "/orders/abc", http.StatusBadRequest},
		{"Unknown Order", alice, "/orders/999", http.StatusNotFound},
		{"Other User", bob, path, http.StatusForbidden},
		{"Success", alice, path, http.StatusOK},
		{"Already Cancelled", alice, path, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, http.MethodDelete, tt.path, tt.token, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "Order cancelled", response["message"])
			}
		})
	}

	status, err := env.store.GetOrderStatus(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)
}

func TestHandler_TradeFeed(t *testing.T) {
	env := setup(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	_, err = env.catalog.CreateUser(ctx, "alice")
	require.NoError(t, err)
	_, err = env.catalog.CreateItem(ctx, "Replica B")
	require.NoError(t, err)
	for _, side := range []models.Side{models.Buy, models.Sell} {
		_, err := env.router.Submit(ctx, exchange.SubmitRequest{UserID: 1, ItemID: 1, Side: side, Kind: models.Open, Quantity: 1})
		require.NoError(t, err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var trade models.Trade
	require.NoError(t, conn.ReadJSON(&trade))
	assert.Equal(t, int64(1), trade.ItemID)
	assert.Equal(t, exchange.DefaultPrice, trade.Price)
}

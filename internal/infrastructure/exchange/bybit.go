package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_trade_manager/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
)

// BybitAdapter implements domain.BrokerGateway over the Bybit V5 REST
// API and domain.PriceOracle from the public ticker websocket stream,
// with a REST fallback before the stream has warmed up.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	wsConn     *websocket.Conn
	lastPrices map[string]float64
	subscribed map[string]bool
	mu         sync.Mutex
}

var _ domain.BrokerGateway = (*BybitAdapter)(nil)
var _ domain.PriceOracle = (*BybitAdapter)(nil)

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	return &BybitAdapter{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		wsURL:      wsURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		lastPrices: make(map[string]float64),
		subscribed: make(map[string]bool),
	}
}

// --- REST plumbing ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == "GET" {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

type retResult struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// --- BrokerGateway ---

func (b *BybitAdapter) PlaceMarketOrder(ctx context.Context, instrument string, side domain.Side, quantity float64) (*domain.BrokerOrder, error) {
	return b.placeOrder(ctx, instrument, side, "Market", quantity, 0, 0)
}

func (b *BybitAdapter) PlaceLimitOrder(ctx context.Context, instrument string, side domain.Side, quantity, price float64) (*domain.BrokerOrder, error) {
	return b.placeOrder(ctx, instrument, side, "Limit", quantity, price, 0)
}

func (b *BybitAdapter) PlaceStopOrder(ctx context.Context, instrument string, side domain.Side, quantity, stopPrice float64) (*domain.BrokerOrder, error) {
	return b.placeOrder(ctx, instrument, side, "Market", quantity, 0, stopPrice)
}

func (b *BybitAdapter) placeOrder(ctx context.Context, instrument string, side domain.Side, orderType string, quantity, price, triggerPrice float64) (*domain.BrokerOrder, error) {
	bybitSide := "Buy"
	if side == domain.SideSell {
		bybitSide = "Sell"
	}

	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      instrument,
		"side":        bybitSide,
		"orderType":   orderType,
		"qty":         strconv.FormatFloat(quantity, 'f', -1, 64),
		"timeInForce": "GTC",
	}
	if price > 0 {
		payload["price"] = strconv.FormatFloat(price, 'f', -1, 64)
	}
	if triggerPrice > 0 {
		payload["triggerPrice"] = strconv.FormatFloat(triggerPrice, 'f', -1, 64)
	}

	resp, err := b.sendRequest(ctx, "POST", "/v5/order/create", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		retResult
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit order error: %s", result.RetMsg)
	}

	return &domain.BrokerOrder{ID: result.Result.OrderID}, nil
}

func (b *BybitAdapter) GetOrder(ctx context.Context, remoteID string) (*domain.BrokerOrderState, error) {
	path := "/v5/order/realtime?category=linear&orderId=" + remoteID
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		retResult
		Result struct {
			List []struct {
				OrderStatus  string `json:"orderStatus"`
				CumExecQty   string `json:"cumExecQty"`
				CumExecValue string `json:"cumExecValue"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit order query error: %s", result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("order %s not found", remoteID)
	}

	item := result.Result.List[0]
	filledQty, _ := strconv.ParseFloat(item.CumExecQty, 64)
	filledValue, _ := strconv.ParseFloat(item.CumExecValue, 64)

	return &domain.BrokerOrderState{
		Status:         mapOrderStatus(item.OrderStatus),
		FilledQuantity: filledQty,
		FilledValue:    filledValue,
	}, nil
}

// mapOrderStatus reduces Bybit's order states to the gateway vocabulary.
func mapOrderStatus(status string) string {
	switch status {
	case "New", "Created", "Untriggered":
		return domain.BrokerStatusNew
	case "PartiallyFilled":
		return domain.BrokerStatusWorking
	case "Filled":
		return domain.BrokerStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.BrokerStatusCancelled
	case "Rejected":
		return domain.BrokerStatusRejected
	}
	return domain.BrokerStatusWorking
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, remoteID string) error {
	payload := map[string]interface{}{
		"category": "linear",
		"orderId":  remoteID,
	}

	resp, err := b.sendRequest(ctx, "POST", "/v5/order/cancel", payload)
	if err != nil {
		return err
	}

	var result retResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if result.RetCode != 0 {
		return fmt.Errorf("bybit cancel error: %s", result.RetMsg)
	}
	return nil
}

func (b *BybitAdapter) GetPortfolio(ctx context.Context) ([]domain.BrokerPosition, error) {
	path := "/v5/position/list?category=linear&settleCoin=USDT"
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		retResult
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Size      string `json:"size"`
				MarkPrice string `json:"markPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit position list error: %s", result.RetMsg)
	}

	var positions []domain.BrokerPosition
	for _, item := range result.Result.List {
		size, _ := strconv.ParseFloat(item.Size, 64)
		if size == 0 {
			continue
		}
		price, _ := strconv.ParseFloat(item.MarkPrice, 64)
		positions = append(positions, domain.BrokerPosition{
			Ticker:       item.Symbol,
			Quantity:     size,
			CurrentPrice: price,
		})
	}
	return positions, nil
}

// --- PriceOracle ---

// GetQuote returns the cached stream price when available, otherwise
// falls back to a REST ticker query. A symbol without any price yields
// a nil quote.
func (b *BybitAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	b.mu.Lock()
	price, ok := b.lastPrices[symbol]
	b.mu.Unlock()
	if ok && price > 0 {
		return &domain.Quote{Symbol: symbol, Price: price}, nil
	}

	price, err := b.fetchTickerPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, nil
	}

	b.mu.Lock()
	b.lastPrices[symbol] = price
	b.mu.Unlock()
	return &domain.Quote{Symbol: symbol, Price: price}, nil
}

func (b *BybitAdapter) fetchTickerPrice(ctx context.Context, symbol string) (float64, error) {
	path := "/v5/market/tickers?category=linear&symbol=" + symbol
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		retResult
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if len(result.Result.List) == 0 {
		return 0, nil
	}
	return strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
}

// --- Websocket stream ---

// ConnectWS dials the public stream and starts the read loop. Safe to
// call once at startup; Subscribe handles later symbol additions.
func (b *BybitAdapter) ConnectWS() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()

	go b.readLoop(conn)
	return nil
}

// Subscribe adds ticker subscriptions for symbols not yet streamed.
func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	conn := b.wsConn
	var topics []string
	for _, symbol := range symbols {
		if !b.subscribed[symbol] {
			b.subscribed[symbol] = true
			topics = append(topics, "tickers."+symbol)
		}
	}
	b.mu.Unlock()

	if conn == nil || len(topics) == 0 {
		return nil
	}

	msg := map[string]interface{}{
		"op":   "subscribe",
		"args": topics,
	}
	return conn.WriteJSON(msg)
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("Websocket read failed, stream stopped", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.LastPrice == "" {
			continue
		}

		price, err := strconv.ParseFloat(event.Data.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}

		symbol := event.Data.Symbol
		if symbol == "" {
			symbol = strings.TrimPrefix(event.Topic, "tickers.")
		}

		b.mu.Lock()
		b.lastPrices[symbol] = price
		b.mu.Unlock()
	}
}

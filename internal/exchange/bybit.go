package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"grid_bot/internal/helper"
	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
)

const (
	mainnetREST = "https://api.bybit.com"
	demoREST    = "https://api-demo.bybit.com"
	spotWS      = "wss://stream.bybit.com/v5/public/spot"
)

// retCode Bybit, после которых запрос имеет смысл повторить.
var transientRetCodes = map[int]struct{}{
	10000: {}, // server timeout
	10002: {}, // recv_window / рассинхрон времени
	10006: {}, // rate limit
	10016: {}, // internal server error
	10018: {}, // ip rate limit
}

type Config struct {
	APIKey     string
	APISecret  string
	Demo       bool
	RecvWindow time.Duration
	MaxRetries int
	Timeout    time.Duration
}

type BybitClient struct {
	http       *http.Client
	wsDialer   *websocket.Dialer
	baseURL    string
	wsURL      string
	apiKey     string
	apiSecret  string
	recvWindow string
	maxRetries int
	backoff    func(attempt int) time.Duration
	wsBackoff  func(retry int) time.Duration
	now        func() time.Time
	onConn     ConnHook
}

func NewBybitClient(cfg Config) *BybitClient {
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := mainnetREST
	if cfg.Demo {
		base = demoREST
	}
	return &BybitClient{
		http:       &http.Client{Timeout: cfg.Timeout},
		wsDialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseURL:    base,
		wsURL:      spotWS,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: strconv.FormatInt(cfg.RecvWindow.Milliseconds(), 10),
		maxRetries: cfg.MaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 250 * time.Millisecond
		},
		wsBackoff: wsReconnectWait,
		now:       time.Now,
	}
}

// OnConnState: колбэк на подключение/обрыв стрима тикеров.
func (c *BybitClient) OnConnState(fn ConnHook) { c.onConn = fn }

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

func (c *BybitClient) sign(payload string) (ts, signature string) {
	ts = strconv.FormatInt(c.now().UnixMilli(), 10)
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + c.apiKey + c.recvWindow + payload))
	return ts, hex.EncodeToString(h.Sum(nil))
}

// call выполняет запрос. Транзиентные ошибки (сеть, 5xx, 429, rate limit)
// повторяются с бэкоффом, если retry=true, и возвращаются как ErrTransientAPI.
func call[T any](ctx context.Context, c *BybitClient, method, path string, query url.Values, body any, retry bool) (T, error) {
	var zero T
	var payload []byte
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return zero, errors.Wrap(err, "encode body")
		}
		payload = b
	}

	attempts := 1
	if retry {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		res, err := callOnce[T](ctx, c, method, path, query, payload)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, models.ErrTransientAPI) {
			return zero, err
		}
		lastErr = err
		logger.Warn("[BYBIT] %s %s попытка %d/%d: %v", method, path, attempt+1, attempts, err)
	}
	return zero, lastErr
}

func callOnce[T any](ctx context.Context, c *BybitClient, method, path string, query url.Values, payload []byte) (T, error) {
	var zero T

	rawQuery := query.Encode()
	var bodyReader io.Reader
	signPayload := rawQuery
	if method != http.MethodGet {
		bodyReader = bytes.NewReader(payload)
		signPayload = string(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return zero, err
	}
	req.URL.RawQuery = rawQuery
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		ts, sig := c.sign(signPayload)
		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
		req.Header.Set("X-BAPI-SIGN", sig)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, errors.Wrapf(models.ErrTransientAPI, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return zero, errors.Wrapf(models.ErrTransientAPI, "http %d: %s", resp.StatusCode, string(rb))
	}
	if resp.StatusCode/100 != 2 {
		return zero, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb))
	}

	var env envelope[T]
	if err := sonic.Unmarshal(rb, &env); err != nil {
		return zero, errors.Wrap(err, "decode response")
	}
	if env.RetCode != 0 {
		if _, ok := transientRetCodes[env.RetCode]; ok {
			return zero, errors.Wrapf(models.ErrTransientAPI, "bybit retCode=%d retMsg=%s", env.RetCode, env.RetMsg)
		}
		return zero, fmt.Errorf("bybit retCode=%d retMsg=%s", env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// ===== market =====

type instrumentsResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		LotSizeFilter struct {
			BasePrecision  string `json:"basePrecision"`
			QuotePrecision string `json:"quotePrecision"`
			MinOrderQty    string `json:"minOrderQty"`
			MinOrderAmt    string `json:"minOrderAmt"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

// InstrumentPrecision: точность qty из lotSizeFilter.basePrecision.
func (c *BybitClient) InstrumentPrecision(ctx context.Context, symbol string) (models.Instrument, error) {
	q := url.Values{"category": {"spot"}, "symbol": {symbol}}
	res, err := call[instrumentsResult](ctx, c, http.MethodGet, "/v5/market/instruments-info", q, nil, true)
	if err != nil {
		return models.Instrument{}, errors.Wrap(err, "instruments-info")
	}
	if len(res.List) == 0 {
		return models.Instrument{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	it := res.List[0]
	minQty, _ := helper.ParseNum(it.LotSizeFilter.MinOrderQty)
	minAmt, _ := helper.ParseNum(it.LotSizeFilter.MinOrderAmt)
	return models.Instrument{
		Symbol:         it.Symbol,
		BaseCoin:       it.BaseCoin,
		QuoteCoin:      it.QuoteCoin,
		BasePrecision:  helper.DecimalPlaces(it.LotSizeFilter.BasePrecision),
		QuotePrecision: helper.DecimalPlaces(it.LotSizeFilter.QuotePrecision),
		MinOrderQty:    minQty,
		MinOrderAmt:    minAmt,
	}, nil
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

func (c *BybitClient) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{"category": {"spot"}, "symbol": {symbol}}
	res, err := call[tickersResult](ctx, c, http.MethodGet, "/v5/market/tickers", q, nil, true)
	if err != nil {
		return 0, errors.Wrap(err, "tickers")
	}
	if len(res.List) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	return helper.ParseNum(res.List[0].LastPrice)
}

// ===== account =====

type walletResult struct {
	List []struct {
		TotalEquity string `json:"totalEquity"`
		Coin        []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
			USDValue      string `json:"usdValue"`
		} `json:"coin"`
	} `json:"list"`
}

func (c *BybitClient) WalletBalance(ctx context.Context, coin string) (models.Balance, error) {
	q := url.Values{"accountType": {"UNIFIED"}, "coin": {coin}}
	res, err := call[walletResult](ctx, c, http.MethodGet, "/v5/account/wallet-balance", q, nil, true)
	if err != nil {
		return models.Balance{}, errors.Wrap(err, "wallet-balance")
	}

	out := models.Balance{Coin: coin}
	if len(res.List) == 0 {
		return out, nil
	}
	acc := res.List[0]
	out.Equity, _ = helper.ParseNum(acc.TotalEquity)
	for _, cb := range acc.Coin {
		if !strings.EqualFold(cb.Coin, coin) {
			continue
		}
		if out.Qty, err = helper.ParseNum(cb.WalletBalance); err != nil {
			return models.Balance{}, errors.Wrapf(err, "walletBalance %q", cb.WalletBalance)
		}
		out.USDValue, _ = helper.ParseNum(cb.USDValue)
	}
	return out, nil
}

// ===== orders =====

type orderRecord struct {
	OrderID      string            `json:"orderId"`
	OrderLinkID  string            `json:"orderLinkId"`
	Symbol       string            `json:"symbol"`
	Side         string            `json:"side"`
	OrderStatus  string            `json:"orderStatus"`
	AvgPrice     string            `json:"avgPrice"`
	CumExecQty   string            `json:"cumExecQty"`
	CumExecValue string            `json:"cumExecValue"`
	CumFeeDetail map[string]string `json:"cumFeeDetail"`
	CreatedTime  string            `json:"createdTime"`
	UpdatedTime  string            `json:"updatedTime"`
}

func (r orderRecord) toTrade() models.Trade {
	t := models.Trade{
		OrderID:     r.OrderID,
		OrderLinkID: r.OrderLinkID,
		Symbol:      r.Symbol,
		Side:        models.Side(r.Side),
		Status:      models.OrderStatus(r.OrderStatus),
		CreatedAt:   helper.ParseMillis(r.CreatedTime),
		UpdatedAt:   helper.ParseMillis(r.UpdatedTime),
	}
	t.AvgPrice, _ = helper.ParseNum(r.AvgPrice)
	t.ExecQty, _ = helper.ParseNum(r.CumExecQty)
	t.ExecValue, _ = helper.ParseNum(r.CumExecValue)
	if len(r.CumFeeDetail) > 0 {
		t.Fees = make(map[string]float64, len(r.CumFeeDetail))
		for coin, raw := range r.CumFeeDetail {
			v, _ := helper.ParseNum(raw)
			t.Fees[strings.ToUpper(coin)] = v
		}
	}
	return t
}

type historyResult struct {
	List []orderRecord `json:"list"`
}

// OrderHistory: история ордеров, от новых к старым.
func (c *BybitClient) OrderHistory(ctx context.Context, filter models.OrderFilter) ([]models.Trade, error) {
	q := url.Values{"category": {"spot"}}
	if filter.Symbol != "" {
		q.Set("symbol", filter.Symbol)
	}
	if filter.OrderID != "" {
		q.Set("orderId", filter.OrderID)
	}
	if filter.Status != "" {
		q.Set("orderStatus", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	res, err := call[historyResult](ctx, c, http.MethodGet, "/v5/order/history", q, nil, true)
	if err != nil {
		return nil, errors.Wrap(err, "order history")
	}
	out := make([]models.Trade, 0, len(res.List))
	for _, r := range res.List {
		out = append(out, r.toTrade())
	}
	return out, nil
}

type createOrderBody struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	MarketUnit  string `json:"marketUnit,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

type createOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceMarketOrder: рыночный ордер. Не повторяется: повтор create может
// породить второй ордер.
func (c *BybitClient) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	body := createOrderBody{
		Category:    "spot",
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		OrderType:   "Market",
		Qty:         req.Qty,
		MarketUnit:  string(req.Unit),
		OrderLinkID: req.LinkID,
	}
	res, err := call[createOrderResult](ctx, c, http.MethodPost, "/v5/order/create", nil, body, false)
	if err != nil {
		return "", errors.Wrap(err, "order create")
	}
	if res.OrderID == "" {
		return "", errors.New("order create: empty orderId")
	}
	return res.OrderID, nil
}

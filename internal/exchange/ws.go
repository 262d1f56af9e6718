package exchange

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"grid_bot/internal/helper"
	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
)

const (
	wsPingEvery     = 20 * time.Second
	wsReadTimeout   = 60 * time.Second
	wsMaxReconnWait = 30 * time.Second
)

type tickerFrame struct {
	Topic string `json:"topic"`
	Op    string `json:"op"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
	Ts int64 `json:"ts"`
}

// StreamTickers: поток lastPrice из публичного канала tickers.<symbol>.
// Переподключается сам, пока жив ctx. Канал закрывается после отмены ctx.
// Пауза между попытками растёт, пока не придёт хотя бы один тик.
func (c *BybitClient) StreamTickers(ctx context.Context, symbol string) <-chan models.Tick {
	ch := make(chan models.Tick)
	topic := "tickers." + symbol

	go func() {
		defer close(ch)
		retry := 0
		for {
			if ctx.Err() != nil {
				return
			}
			conn, err := c.subscribe(ctx, topic)
			if err == nil {
				logger.Info("[WS] подписка на %s", topic)
				c.connState(true)
				if c.readTickers(ctx, conn, symbol, topic, ch) {
					retry = 0
				}
				c.connState(false)
				if ctx.Err() != nil {
					return
				}
				err = errors.New("соединение потеряно")
			}

			retry++
			wait := c.wsBackoff(retry)
			logger.Warn("[WS] %v (%d), повтор через %s", err, retry, wait)
			if !sleepCtx(ctx, wait) {
				return
			}
		}
	}()
	return ch
}

func (c *BybitClient) subscribe(ctx context.Context, topic string) (*websocket.Conn, error) {
	conn, _, err := c.wsDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "подключение")
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": []string{topic}}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "подписка на %s", topic)
	}
	return conn, nil
}

func wsReconnectWait(retry int) time.Duration {
	return min(time.Duration(300*retry)*time.Millisecond, wsMaxReconnWait)
}

// readTickers читает до обрыва. true, если был отдан хотя бы один тик.
func (c *BybitClient) readTickers(ctx context.Context, conn *websocket.Conn, symbol, topic string, ch chan<- models.Tick) (got bool) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		t := time.NewTicker(wsPingEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close() // разблокирует ReadMessage
				return
			case <-t.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			}
		}
	}()

	defer conn.Close()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("[WS] чтение: %v", err)
			}
			return got
		}

		var frame tickerFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil || frame.Topic != topic {
			continue // pong, ответы на подписку
		}
		price, err := helper.ParseNum(frame.Data.LastPrice)
		if err != nil || price <= 0 {
			continue
		}
		at := time.Now()
		if frame.Ts > 0 {
			at = time.UnixMilli(frame.Ts)
		}

		select {
		case ch <- models.Tick{Symbol: symbol, Price: price, At: at}:
			got = true
		case <-ctx.Done():
			return got
		}
	}
}

func (c *BybitClient) connState(up bool) {
	if c.onConn != nil {
		c.onConn(up)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

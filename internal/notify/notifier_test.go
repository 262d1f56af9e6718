package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grid_bot/internal/engine"
	"grid_bot/internal/models"
)

var cfg = TelegramConfig{Symbol: "BTCUSDT", BaseCoin: "BTC", QuoteCoin: "USDT", ProfitTarget: 1000}

func TestFormatPositions(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	ps := []models.Position{
		{OrderID: "a", Price: 99000, Qty: 0.0001, OpenedAt: now.Add(-26 * time.Hour)},
		{OrderID: "b", Price: 98000, Qty: 0.0002, OpenedAt: now.Add(-5 * time.Minute)},
	}
	got := FormatPositions(ps, cfg, now)
	for _, want := range []string{"(2)", "@ 99000.00 → продажа 100000.00", "1 день 2 часа", "5 минут", "Итого: 0.00030000 BTC"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if FormatPositions(nil, cfg, now) != "📭 Открытых лотов нет" {
		t.Error("empty ledger message")
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	s := engine.Snapshot{
		State: engine.State{Halted: true, LastPrice: 99400, BuyFailures: 5},
		Stats: engine.Stats{StartedAt: now.Add(-time.Hour), Ticks: 10, Buys: 2, RealizedProfit: 10},
	}
	got := FormatStatus(s, cfg, now)
	for _, want := range []string{"ОСТАНОВЛЕН", "опорная: неизвестна", "Прибыль: 10.00 USDT", "buy/sell: 5/0", "1 час"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

type fakeBot struct {
	mu      sync.Mutex
	sent    []string
	delay   time.Duration
	release chan struct{}
	updates chan tgbot.Update
	stop    sync.Once
}

func newFakeBot(delay time.Duration) *fakeBot {
	return &fakeBot{delay: delay, updates: make(chan tgbot.Update)}
}

func (b *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	if b.release != nil {
		<-b.release
	}
	time.Sleep(b.delay)
	b.mu.Lock()
	b.sent = append(b.sent, c.(tgbot.MessageConfig).Text)
	b.mu.Unlock()
	return tgbot.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel { return b.updates }

func (b *fakeBot) StopReceivingUpdates() { b.stop.Do(func() { close(b.updates) }) }

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

func TestTelegramStopDeliversQueuedMessages(t *testing.T) {
	bot := newFakeBot(20 * time.Millisecond)
	tg := newTelegram(bot, TelegramConfig{ChatID: 42})
	if err := tg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tg.Send("📥 Куплено")
	tg.Send("💰 Продано")
	tg.Send("🛑 Торговля остановлена")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tg.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := bot.texts()
	if len(got) != 3 || !strings.Contains(got[2], "остановлена") {
		t.Fatalf("delivered %v", got)
	}
}

func TestTelegramStopBoundedByContext(t *testing.T) {
	bot := newFakeBot(0)
	bot.release = make(chan struct{})
	defer close(bot.release)

	tg := newTelegram(bot, TelegramConfig{ChatID: 42})
	if err := tg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	tg.Send("🛑 Торговля остановлена")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := tg.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stop = %v, want deadline exceeded", err)
	}
}

func TestTelegramSendWithoutChatIsNoop(t *testing.T) {
	tg := newTelegram(newFakeBot(0), TelegramConfig{})
	tg.Send("ignored")
	if len(tg.out) != 0 {
		t.Fatal("message queued without chat id")
	}
}

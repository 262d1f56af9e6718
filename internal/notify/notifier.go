package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grid_bot/internal/engine"
	"grid_bot/internal/helper"
	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
)

// Notifier: fire-and-forget. Ошибки доставки логируются, наружу не выходят.
type Notifier interface {
	Send(msg string)
}

type Positions interface {
	Positions() []models.Position
}

type Status interface {
	Snapshot() engine.Snapshot
}

type TelegramConfig struct {
	Token        string
	ChatID       int64
	Symbol       string
	BaseCoin     string
	QuoteCoin    string
	ProfitTarget float64
}

// botAPI: часть *tgbot.BotAPI, которой пользуется Telegram.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram: уведомления в чат + команды /positions и /status.
type Telegram struct {
	bot botAPI
	cfg TelegramConfig
	out chan string

	positions Positions
	status    Status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, cfg), nil
}

func newTelegram(b botAPI, cfg TelegramConfig) *Telegram {
	return &Telegram{
		bot:    b,
		cfg:    cfg,
		out:    make(chan string, 64),
		cancel: func() {},
	}
}

// Attach подключает источники для команд. Вызывается до Start.
func (t *Telegram) Attach(p Positions, s Status) {
	t.positions, t.status = p, s
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.cfg.ChatID == 0 {
		return
	}
	select {
	case t.out <- msg:
	default:
		logger.Warn("[TG] очередь сообщений переполнена, сообщение отброшено: %s", msg)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func (t *Telegram) deliver(text string) {
	m := tgbot.NewMessage(t.cfg.ChatID, html.EscapeString(text))
	m.ParseMode = tgbot.ModeHTML
	if _, err := t.bot.Send(m); err != nil {
		logger.Error("[TG] не удалось отправить сообщение: %v", err)
	}
}

// /positions: открытые лоты из леджера.
func (t *Telegram) handlePositions() {
	if t.positions == nil {
		t.Send("❗️ Леджер не подключён")
		return
	}
	t.Send(FormatPositions(t.positions.Positions(), t.cfg, time.Now()))
}

// /status: состояние движка и счётчики.
func (t *Telegram) handleStatus() {
	if t.status == nil {
		t.Send("❗️ Движок не подключён")
		return
	}
	t.Send(FormatStatus(t.status.Snapshot(), t.cfg, time.Now()))
}

// Start: отправитель сообщений и long-polling команд.
// Обе горутины живут до Stop или отмены ctx.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				// дописываем очередь: критичное сообщение kill-switch приходит прямо перед остановкой
				for {
					select {
					case msg := <-t.out:
						t.deliver(msg)
					default:
						return
					}
				}
			case msg := <-t.out:
				t.deliver(msg)
			}
		}
	}()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.cfg.ChatID || !upd.Message.IsCommand() {
					continue
				}
				switch upd.Message.Command() {
				case "positions":
					t.handlePositions()
				case "status":
					t.handleStatus()
				}
			}
		}
	}()
	return nil
}

// Stop прекращает приём команд и ждёт, пока уйдут накопленные сообщения.
// Ожидание ограничено ctx.
func (t *Telegram) Stop(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}
	t.bot.StopReceivingUpdates()
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("[TG] не дождались отправки очереди: %d сообщений не доставлено", len(t.out))
		return ctx.Err()
	}
}

func FormatPositions(ps []models.Position, cfg TelegramConfig, now time.Time) string {
	if len(ps) == 0 {
		return "📭 Открытых лотов нет"
	}
	var b strings.Builder
	var total float64
	fmt.Fprintf(&b, "📊 Открытые лоты %s (%d):\n", cfg.Symbol, len(ps))
	for _, p := range ps {
		total += p.Qty
		fmt.Fprintf(&b, "- %s %s @ %.2f → продажа %.2f, держим %s\n",
			helper.FormatQty(p.Qty, 8), cfg.BaseCoin, p.Price, p.SellPrice(cfg.ProfitTarget),
			helper.HumanDuration(now.Sub(p.OpenedAt)))
	}
	fmt.Fprintf(&b, "Итого: %s %s", helper.FormatQty(total, 8), cfg.BaseCoin)
	return b.String()
}

func FormatStatus(s engine.Snapshot, cfg TelegramConfig, now time.Time) string {
	state := "работает"
	if s.State.Halted {
		state = "ОСТАНОВЛЕН"
	}
	ref := "неизвестна"
	if s.State.Reference > 0 {
		ref = fmt.Sprintf("%.2f", s.State.Reference)
	}
	return fmt.Sprintf(
		"🩺 %s: %s\nЦена: %.2f, опорная: %s\nТиков: %d, покупок: %d, продаж: %d\nПрибыль: %.2f %s\nОшибок подряд buy/sell: %d/%d\nАптайм: %s",
		cfg.Symbol, state, s.State.LastPrice, ref,
		s.Stats.Ticks, s.Stats.Buys, s.Stats.Sells,
		s.Stats.RealizedProfit, cfg.QuoteCoin,
		s.State.BuyFailures, s.State.SellFailures,
		helper.HumanDuration(now.Sub(s.Stats.StartedAt)),
	)
}

// Stdout пишет уведомления в операционный лог, когда Telegram выключен.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }

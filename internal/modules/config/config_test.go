package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"grid_bot/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAPER_TRADING", "true")

	c, err := Load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Symbol() != "BTCUSDT" || c.GridType != models.GridLinear {
		t.Fatalf("symbol=%s grid=%s", c.Symbol(), c.GridType)
	}
	if c.OrderSize != 10 || c.ProfitTarget != 1000 || c.LevelStep != 1000 || c.LevelOffset != 500 {
		t.Fatalf("grid defaults: %+v", c)
	}
	if c.RetryCount != 5 || c.RetryDelay != time.Second || c.MaxCriticalErrors != 5 {
		t.Fatalf("retry defaults: %d %v %d", c.RetryCount, c.RetryDelay, c.MaxCriticalErrors)
	}
	if c.QueuePolicy != models.QueueDropOldest || c.PositionsFile != "positions.json" {
		t.Fatalf("queue=%s positions=%s", c.QueuePolicy, c.PositionsFile)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("API_KEY", "key")
	t.Setenv("API_SECRET", "secret")
	t.Setenv("BASE_COIN", "eth")
	t.Setenv("GRID_TYPE", "FIBO")
	t.Setenv("LEVEL_STEP", "50")
	t.Setenv("RETRY_DELAY", "2")
	t.Setenv("QUEUE_POLICY", "block")
	t.Setenv("TELEGRAM_NOTIFICATIONS", "true")
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001234")

	c, err := Load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Symbol() != "ETHUSDT" || c.GridType != models.GridFibonacci || c.LevelStep != 50 {
		t.Fatalf("unexpected %+v", c)
	}
	if c.RetryDelay != 2*time.Second {
		t.Fatalf("RETRY_DELAY as seconds: %v", c.RetryDelay)
	}
	if c.QueuePolicy != models.QueueBlock || c.Telegram.ChatID != -1001234 {
		t.Fatalf("queue=%s chat=%d", c.QueuePolicy, c.Telegram.ChatID)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.yaml")
	body := "paper_trading: true\norder_size: 25\nlevel_offset: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ORDER_SIZE", "30") // окружение важнее файла

	c, err := Load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.OrderSize != 30 || c.LevelOffset != 0 || !c.PaperTrading {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing keys":   {},
		"zero step":      {"PAPER_TRADING": "true", "LEVEL_STEP": "0"},
		"bad grid":       {"PAPER_TRADING": "true", "GRID_TYPE": "SPIRAL"},
		"bad policy":     {"PAPER_TRADING": "true", "QUEUE_POLICY": "random"},
		"telegram no id": {"PAPER_TRADING": "true", "TELEGRAM_NOTIFICATIONS": "true", "TELEGRAM_TOKEN": "x"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("API_KEY", "")
			t.Setenv("API_SECRET", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(viper.New()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	c := &Config{BaseCoin: "BTC", QuoteCoin: "USDT"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"API_KEY", "LEVEL_STEP", "ORDER_SIZE", "PROFIT_TARGET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v2"

	"grid_bot/internal/engine"
	"grid_bot/internal/models"
)

func TestBuild(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	es := engine.Snapshot{
		State: engine.State{Reference: 99400, LastPrice: 99400},
		Stats: engine.Stats{StartedAt: start, Ticks: 42, Buys: 3, Sells: 1, RealizedProfit: 10},
	}
	positions := []models.Position{
		{OrderID: "a", Price: 99000, Qty: 0.0001},
		{OrderID: "b", Price: 97000, Qty: 0.0002},
	}

	s := Build("BTCUSDT", es, positions, 1000, start.Add(90*time.Minute))
	if s.Uptime != "1h30m0s" || s.OpenPositions != 2 || s.NextSell != 98000 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.ExposureBase < 0.000299 || s.ExposureBase > 0.000301 {
		t.Fatalf("exposure = %v", s.ExposureBase)
	}
	if !strings.Contains(s.Summary(), "прибыль 10.00") {
		t.Fatalf("summary = %s", s.Summary())
	}
}

func TestWriter_WritesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "stats.yaml")
	s := Snapshot{Symbol: "BTCUSDT", Ticks: 7, Lots: []Lot{{OrderID: "a", Price: 99000}}}

	if err := NewWriter(path).Write(s); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := yaml.Unmarshal(b, &got); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if got["symbol"] != "BTCUSDT" || got["ticks"] != 7 {
		t.Fatalf("file content: %s", b)
	}
	if _, ok := got["next_sell"]; ok {
		t.Fatal("next_sell must be omitted when there are no lots")
	}
}

func TestWriter_EmptyPathIsNoop(t *testing.T) {
	if err := NewWriter("").Write(Snapshot{}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

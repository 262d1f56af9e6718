package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"grid_bot/internal/models"
)

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) total() time.Duration {
	var sum time.Duration
	for _, d := range c.slept {
		sum += d
	}
	return sum
}

// poll: один ответ истории: либо ошибка, либо статус (пустой: ордера ещё нет).
type poll struct {
	status models.OrderStatus
	err    error
}

type scriptedExchange struct {
	placeErr error
	polls    []poll
	calls    int
	placed   []models.OrderRequest
}

func (s *scriptedExchange) PlaceMarketOrder(_ context.Context, req models.OrderRequest) (string, error) {
	if s.placeErr != nil {
		return "", s.placeErr
	}
	s.placed = append(s.placed, req)
	return "order-1", nil
}

func (s *scriptedExchange) OrderHistory(_ context.Context, f models.OrderFilter) ([]models.Trade, error) {
	i := s.calls
	s.calls++
	if i >= len(s.polls) {
		return []models.Trade{{OrderID: f.OrderID, Status: models.OrderStatusNew}}, nil
	}
	p := s.polls[i]
	if p.err != nil {
		return nil, p.err
	}
	if p.status == "" {
		return nil, nil
	}
	return []models.Trade{{
		OrderID:   f.OrderID,
		Status:    p.status,
		AvgPrice:  99500,
		ExecQty:   0.0001,
		Fees:      map[string]float64{"BTC": 0.0000001},
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}}, nil
}

func newExec(ex Exchange, clock Clock) *Executor {
	return New(Config{Symbol: "BTCUSDT", MaxAttempts: 5, Delay: time.Second}, ex, clock)
}

var quote10 = SizeSpec{Amount: 10, Unit: models.UnitQuote}

func TestExecute_FilledAfterPolling(t *testing.T) {
	ex := &scriptedExchange{polls: []poll{
		{status: ""},
		{err: errors.New("timeout")},
		{status: models.OrderStatusNew},
		{status: models.OrderStatusFilled},
	}}
	clock := &fakeClock{}

	out, err := newExec(ex, clock).Execute(context.Background(), models.SideBuy, quote10, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.State != StateFilled || out.AvgPrice != 99500 || out.Qty != 0.0001 || out.Attempts != 4 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Fees["BTC"] != 0.0000001 {
		t.Fatalf("fees = %v", out.Fees)
	}
	if len(clock.slept) != 4 {
		t.Fatalf("slept %d times, want one sleep before each of 4 polls", len(clock.slept))
	}
	req := ex.placed[0]
	if req.Qty != "10" || req.Unit != models.UnitQuote || !strings.HasPrefix(req.LinkID, "gb-") || len(req.LinkID) != 35 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestExecute_CancelledIsRejectedWithoutRetry(t *testing.T) {
	ex := &scriptedExchange{polls: []poll{{status: models.OrderStatusCancelled}}}
	clock := &fakeClock{}

	out, err := newExec(ex, clock).Execute(context.Background(), models.SideBuy, quote10, "")
	if !errors.Is(err, models.ErrOrderRejected) {
		t.Fatalf("want ErrOrderRejected, got %v", err)
	}
	if out.State != StateCancelled || ex.calls != 1 {
		t.Fatalf("state=%s calls=%d", out.State, ex.calls)
	}
}

func TestExecute_RejectedStatus(t *testing.T) {
	ex := &scriptedExchange{polls: []poll{{status: models.OrderStatusRejected}}}
	out, err := newExec(ex, &fakeClock{}).Execute(context.Background(), models.SideSell,
		SizeSpec{Amount: 0.0001, Unit: models.UnitBase, Precision: 6}, "gs-lot")
	if !errors.Is(err, models.ErrOrderRejected) || out.State != StateRejected {
		t.Fatalf("got %+v, %v", out, err)
	}
	if ex.placed[0].LinkID != "gs-lot" || ex.placed[0].Qty != "0.000100" {
		t.Fatalf("unexpected request %+v", ex.placed[0])
	}
}

func TestExecute_SubmissionErrorFailsFast(t *testing.T) {
	ex := &scriptedExchange{placeErr: errors.New("retCode=170131 insufficient balance")}
	clock := &fakeClock{}

	_, err := newExec(ex, clock).Execute(context.Background(), models.SideBuy, quote10, "")
	if !errors.Is(err, models.ErrOrderRejected) {
		t.Fatalf("want ErrOrderRejected, got %v", err)
	}
	if ex.calls != 0 || len(clock.slept) != 0 {
		t.Fatal("rejected submission must not poll")
	}
}

func TestExecute_ZeroQtyAfterPrecision(t *testing.T) {
	ex := &scriptedExchange{}
	_, err := newExec(ex, &fakeClock{}).Execute(context.Background(), models.SideSell,
		SizeSpec{Amount: 0.0000009, Unit: models.UnitBase, Precision: 6}, "gs-lot")
	if !errors.Is(err, models.ErrOrderRejected) {
		t.Fatalf("want ErrOrderRejected, got %v", err)
	}
	if len(ex.placed) != 0 {
		t.Fatal("zero qty must not reach the exchange")
	}
}

func TestAwaitFill_UnconfirmedAfterMaxAttempts(t *testing.T) {
	ex := &scriptedExchange{}
	clock := &fakeClock{}
	e := newExec(ex, clock)

	h, err := e.PlaceMarketOrder(context.Background(), models.SideBuy, quote10, "")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	out, err := e.AwaitFill(context.Background(), h, 5, time.Second)
	if !errors.Is(err, models.ErrOrderUnconfirmed) {
		t.Fatalf("want ErrOrderUnconfirmed, got %v", err)
	}
	if out.State != StateUnconfirmed || out.Attempts != 5 || ex.calls != 5 {
		t.Fatalf("state=%s attempts=%d calls=%d", out.State, out.Attempts, ex.calls)
	}
}

func TestAwaitFill_WorstCaseLatency(t *testing.T) {
	ex := &scriptedExchange{}
	clock := &fakeClock{}
	e := newExec(ex, clock)

	h, _ := e.PlaceMarketOrder(context.Background(), models.SideBuy, quote10, "")
	_, _ = e.AwaitFill(context.Background(), h, 5, time.Second)

	if clock.total() != 5*time.Second || e.WorstCaseLatency() != 5*time.Second {
		t.Fatalf("slept %v, worst case %v, want 5s", clock.total(), e.WorstCaseLatency())
	}
}

func TestAwaitFill_ContextCancelled(t *testing.T) {
	ex := &scriptedExchange{}
	e := newExec(ex, &fakeClock{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.AwaitFill(ctx, Handle{OrderID: "order-1"}, 5, time.Second)
	if !errors.Is(err, models.ErrOrderUnconfirmed) || out.State != StateUnconfirmed {
		t.Fatalf("got %+v, %v", out, err)
	}
	if ex.calls != 0 {
		t.Fatal("cancelled context must stop polling")
	}
}

package sim

import (
	"math"
	"testing"
	"time"

	"github.com/dushixiang/gauntlet/pkg/exchange"
)

func TestOpenAndCloseLong(t *testing.T) {
	w := NewPortfolio(10000)

	err := w.Open("BTCUSDT", exchange.PositionSideLong, 0.1, 50000, 5, exchange.MarginTypeCrossed, time.Now())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if w.OpenCount() != 1 {
		t.Fatalf("expected 1 position, got %d", w.OpenCount())
	}

	realized, fullyClosed, err := w.Close("BTCUSDT", 0, 51000)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !fullyClosed {
		t.Fatal("expected fully closed")
	}
	if !almostEqual(realized, 100) {
		t.Fatalf("expected pnl 100, got %v", realized)
	}
	if !almostEqual(w.Cash(), 10100) {
		t.Fatalf("expected cash 10100, got %v", w.Cash())
	}
}

func TestShortPnl(t *testing.T) {
	w := NewPortfolio(10000)

	if err := w.Open("ETHUSDT", exchange.PositionSideShort, 1, 3000, 3, exchange.MarginTypeCrossed, time.Now()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	realized, _, err := w.Close("ETHUSDT", 0, 2900)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !almostEqual(realized, 100) {
		t.Fatalf("short price drop should profit, got %v", realized)
	}
}

func TestOpenMergesSameSide(t *testing.T) {
	w := NewPortfolio(100000)

	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 1, 100, 1, exchange.MarginTypeCrossed, time.Now())
	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 1, 200, 1, exchange.MarginTypeCrossed, time.Now())

	pos, ok := w.Position("BTCUSDT")
	if !ok {
		t.Fatal("position missing")
	}
	if !almostEqual(pos.EntryPrice, 150) {
		t.Fatalf("expected weighted entry 150, got %v", pos.EntryPrice)
	}
	if !almostEqual(pos.Quantity, 2) {
		t.Fatalf("expected quantity 2, got %v", pos.Quantity)
	}
}

func TestOpenRejectsOppositeSide(t *testing.T) {
	w := NewPortfolio(100000)

	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 1, 100, 1, exchange.MarginTypeCrossed, time.Now())
	err := w.Open("BTCUSDT", exchange.PositionSideShort, 1, 100, 1, exchange.MarginTypeCrossed, time.Now())
	if err == nil {
		t.Fatal("expected error when opening opposite side")
	}
}

func TestOpenInsufficientMargin(t *testing.T) {
	w := NewPortfolio(100)

	// 名义 10000 / 杠杆 10 = 1000 保证金 > 100 现金
	err := w.Open("BTCUSDT", exchange.PositionSideLong, 1, 10000, 10, exchange.MarginTypeCrossed, time.Now())
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if w.OpenCount() != 0 {
		t.Fatalf("no position should remain, got %d", w.OpenCount())
	}
}

func TestPartialClose(t *testing.T) {
	w := NewPortfolio(100000)

	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 2, 100, 1, exchange.MarginTypeCrossed, time.Now())

	realized, fullyClosed, err := w.Close("BTCUSDT", 1, 110)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if fullyClosed {
		t.Fatal("expected partial close")
	}
	if !almostEqual(realized, 10) {
		t.Fatalf("expected pnl 10, got %v", realized)
	}

	pos, _ := w.Position("BTCUSDT")
	if !almostEqual(pos.Quantity, 1) {
		t.Fatalf("expected remaining quantity 1, got %v", pos.Quantity)
	}
}

func TestEquityWithMarkPrices(t *testing.T) {
	w := NewPortfolio(10000)

	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 0.1, 50000, 5, exchange.MarginTypeCrossed, time.Now())

	equity := w.Equity(map[string]float64{"BTCUSDT": 52000})
	if !almostEqual(equity, 10200) {
		t.Fatalf("expected equity 10200, got %v", equity)
	}

	// 缺少标记价时按开仓价估值，未实现盈亏为 0
	equity = w.Equity(map[string]float64{})
	if !almostEqual(equity, 10000) {
		t.Fatalf("expected equity 10000, got %v", equity)
	}
}

func TestCashOnlyMovesOnRealizedAndFees(t *testing.T) {
	w := NewPortfolio(10000)

	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 0.1, 50000, 5, exchange.MarginTypeCrossed, time.Now())
	if !almostEqual(w.Cash(), 10000) {
		t.Fatalf("open must not move cash, got %v", w.Cash())
	}

	w.Debit(4.2)
	if !almostEqual(w.Cash(), 10000-4.2) {
		t.Fatalf("expected cash %.2f, got %v", 10000-4.2, w.Cash())
	}
}

func TestGrossExposure(t *testing.T) {
	w := NewPortfolio(100000)

	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 0.1, 50000, 5, exchange.MarginTypeCrossed, time.Now())
	_ = w.Open("ETHUSDT", exchange.PositionSideShort, 1, 3000, 5, exchange.MarginTypeCrossed, time.Now())

	exposure := w.GrossExposure(map[string]float64{"BTCUSDT": 51000, "ETHUSDT": 3100})
	expected := 0.1*51000 + 1*3100
	if math.Abs(exposure-expected) > 1e-9 {
		t.Fatalf("expected exposure %v, got %v", expected, exposure)
	}
}

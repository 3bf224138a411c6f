package sim

import (
	"math"
	"testing"

	"github.com/dushixiang/gauntlet/pkg/exchange"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSettlementPriceZeroLatency(t *testing.T) {
	m := FillModel{LatencyFraction: 0}
	if got := m.SettlementPrice(100, 110); got != 100 {
		t.Fatalf("expected signal price 100, got %v", got)
	}
}

func TestSettlementPriceInterpolation(t *testing.T) {
	m := FillModel{LatencyFraction: 0.5}
	if got := m.SettlementPrice(100, 110); !almostEqual(got, 105) {
		t.Fatalf("expected 105, got %v", got)
	}
	// 价格下行时结算价同样跟随
	if got := m.SettlementPrice(100, 90); !almostEqual(got, 95) {
		t.Fatalf("expected 95, got %v", got)
	}
}

func TestApplySlippageDirection(t *testing.T) {
	m := FillModel{SlippagePercent: 0.1, TakerFeeBps: 4}

	buy := m.Apply(100, exchange.OrderSideBuy, 1, exchange.OrderTypeMarket)
	if buy.Price <= 100 {
		t.Fatalf("buy fill must be above settled price, got %v", buy.Price)
	}
	if !almostEqual(buy.Price, 100.1) {
		t.Fatalf("expected 100.1, got %v", buy.Price)
	}

	sell := m.Apply(100, exchange.OrderSideSell, 1, exchange.OrderTypeMarket)
	if sell.Price >= 100 {
		t.Fatalf("sell fill must be below settled price, got %v", sell.Price)
	}
	if !almostEqual(sell.Price, 99.9) {
		t.Fatalf("expected 99.9, got %v", sell.Price)
	}
}

func TestApplyFeeByOrderType(t *testing.T) {
	m := FillModel{MakerFeeBps: 2, TakerFeeBps: 4}

	taker := m.Apply(100, exchange.OrderSideBuy, 2, exchange.OrderTypeMarket)
	if !almostEqual(taker.Fee, 200*4/10000.0) {
		t.Fatalf("unexpected taker fee %v", taker.Fee)
	}

	maker := m.Apply(100, exchange.OrderSideBuy, 2, exchange.OrderTypeLimit)
	if !almostEqual(maker.Fee, 200*2/10000.0) {
		t.Fatalf("unexpected maker fee %v", maker.Fee)
	}
	if maker.Fee >= taker.Fee {
		t.Fatalf("maker fee %v should be lower than taker fee %v", maker.Fee, taker.Fee)
	}
}

func TestApplyDeterministic(t *testing.T) {
	m := FillModel{SlippagePercent: 0.05, MakerFeeBps: 2, TakerFeeBps: 4}
	a := m.Apply(12345.67, exchange.OrderSideSell, 0.35, exchange.OrderTypeMarket)
	b := m.Apply(12345.67, exchange.OrderSideSell, 0.35, exchange.OrderTypeMarket)
	if a != b {
		t.Fatalf("same input must produce same fill: %+v vs %+v", a, b)
	}
}

package service

import (
	"testing"

	"github.com/dushixiang/gauntlet/internal/strategy"
)

func TestBuildSnapshotRequiresEnoughHistory(t *testing.T) {
	s := NewIndicatorService()

	short := makeCandles(flatCloses(59, 100))
	if snap := s.BuildSnapshot("BTCUSDT", short); snap != nil {
		t.Fatal("insufficient history must return nil")
	}

	enough := makeCandles(flatCloses(60, 100))
	if snap := s.BuildSnapshot("BTCUSDT", enough); snap == nil {
		t.Fatal("60 candles must produce a snapshot")
	}
}

func TestBuildSnapshotValues(t *testing.T) {
	s := NewIndicatorService()

	candles := makeCandles(flatCloses(100, 50))
	snap := s.BuildSnapshot("BTCUSDT", candles)
	if snap == nil {
		t.Fatal("snapshot missing")
	}

	if snap.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected symbol %s", snap.Symbol)
	}
	if snap.Price != 50 {
		t.Fatalf("price must be last close, got %v", snap.Price)
	}
	// 常数序列上均线等于价格，MACD 柱为 0
	if snap.EMA20 != 50 || snap.EMA50 != 50 {
		t.Fatalf("flat series emas must equal price, got %v / %v", snap.EMA20, snap.EMA50)
	}
	if snap.MACDHist != 0 {
		t.Fatalf("flat series macd hist must be zero, got %v", snap.MACDHist)
	}
	if snap.Time != candles[len(candles)-1].CloseTime {
		t.Fatal("snapshot time must be last close time")
	}
}

func TestBuildSnapshotWindowTrimmed(t *testing.T) {
	s := NewIndicatorService()

	candles := makeCandles(flatCloses(200, 100))
	snap := s.BuildSnapshot("BTCUSDT", candles)
	if snap == nil {
		t.Fatal("snapshot missing")
	}

	if len(snap.Closes) != snapshotWindow {
		t.Fatalf("closes window must be trimmed to %d, got %d", snapshotWindow, len(snap.Closes))
	}
	if len(snap.Highs) != snapshotWindow || len(snap.Lows) != snapshotWindow {
		t.Fatal("highs/lows windows must be trimmed")
	}
}

func TestVolatilityEstimate(t *testing.T) {
	s := NewIndicatorService()

	if got := s.VolatilityEstimate(nil); got != 0 {
		t.Fatalf("nil snapshot must give zero, got %v", got)
	}
	if got := s.VolatilityEstimate(&strategy.Snapshot{Price: 0, ATR14: 5}); got != 0 {
		t.Fatalf("zero price must give zero, got %v", got)
	}
	if got := s.VolatilityEstimate(&strategy.Snapshot{Price: 100, ATR14: 2}); got != 0.02 {
		t.Fatalf("expected 0.02, got %v", got)
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"go.uber.org/zap"
)

func newTestBacktestService() *BacktestService {
	conf := &config.Config{
		Sim: config.SimConf{
			SlippagePercent: 0.05,
			MakerFeeBps:     2,
			TakerFeeBps:     4,
			LatencyFraction: 0,
		},
		Risk: config.RiskConf{
			MaxDrawdownPercent:    50,
			MaxPositionPercent:    50,
			MaxPositions:          3,
			DailyLossLimitPercent: 50,
			MaxLeverage:           10,
			BaseFraction:          10,
		},
	}
	logger := zap.NewNop()
	return NewBacktestService(conf, NewIndicatorService(), NewRiskService(conf, logger), logger)
}

// makeCandles 按给定收盘价序列构造K线，时间每 15 分钟一根
func makeCandles(closes []float64) []*exchange.Kline {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*exchange.Kline, 0, len(closes))
	for i, c := range closes {
		openTime := start.Add(time.Duration(i) * 15 * time.Minute)
		candles = append(candles, &exchange.Kline{
			OpenTime:  openTime,
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
			CloseTime: openTime.Add(15 * time.Minute),
		})
	}
	return candles
}

func flatCloses(n int, price float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return closes
}

func descendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start - float64(i)*step
	}
	return closes
}

func TestBacktestFlatSeriesNoTrades(t *testing.T) {
	s := newTestBacktestService()

	st := &models.Strategy{
		ID:     "test",
		Kind:   models.StrategyKindMomentum,
		Symbol: "BTCUSDT",
	}
	candles := makeCandles(flatCloses(80, 100))

	result, err := s.Run(context.Background(), st, candles, 10000, s.riskService.DefaultLimits())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(result.Trades) != 0 {
		t.Fatalf("flat series must produce no trades, got %d", len(result.Trades))
	}
	if result.FinalEquity != 10000 {
		t.Fatalf("equity must stay at initial capital, got %v", result.FinalEquity)
	}
	if len(result.EquityPoints) != len(candles) {
		t.Fatalf("expected one equity point per candle, got %d", len(result.EquityPoints))
	}
}

func TestBacktestDeterministic(t *testing.T) {
	s := newTestBacktestService()

	st := &models.Strategy{
		ID:     "test",
		Kind:   models.StrategyKindDCA,
		Symbol: "BTCUSDT",
		Params: map[string]any{"step_rate": 0.02, "take_profit_rate": 0.03, "batches": 4},
	}
	candles := makeCandles(descendingCloses(120, 1000, 1))

	first, err := s.Run(context.Background(), st, candles, 10000, s.riskService.DefaultLimits())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := s.Run(context.Background(), st, candles, 10000, s.riskService.DefaultLimits())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatal("identical inputs must produce byte-identical results")
	}
}

func TestBacktestForcedCloseAtEnd(t *testing.T) {
	s := newTestBacktestService()

	// 持续下跌触发 DCA 建仓，结束时仍持仓，必须强制平仓
	st := &models.Strategy{
		ID:     "test",
		Kind:   models.StrategyKindDCA,
		Symbol: "BTCUSDT",
		Params: map[string]any{"step_rate": 0.02, "take_profit_rate": 0.03, "batches": 4},
	}
	candles := makeCandles(descendingCloses(120, 1000, 1))

	result, err := s.Run(context.Background(), st, candles, 10000, s.riskService.DefaultLimits())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("descending series must trigger dca entries")
	}

	last := result.Trades[len(result.Trades)-1]
	if last.ExitReason != "session_end" {
		t.Fatalf("expected session_end exit, got %q", last.ExitReason)
	}
}

func TestBacktestFrictionReducesPnl(t *testing.T) {
	s := newTestBacktestService()

	st := &models.Strategy{
		ID:     "test",
		Kind:   models.StrategyKindDCA,
		Symbol: "BTCUSDT",
		Params: map[string]any{"step_rate": 0.02, "take_profit_rate": 0.03, "batches": 4},
	}
	candles := makeCandles(descendingCloses(120, 1000, 1))

	result, err := s.Run(context.Background(), st, candles, 10000, s.riskService.DefaultLimits())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, tr := range result.Trades {
		if tr.Fee <= 0 {
			t.Fatalf("trade must carry fees, got %v", tr.Fee)
		}
		if tr.SlippageCost <= 0 {
			t.Fatalf("trade must carry slippage cost, got %v", tr.SlippageCost)
		}
		// 成交价已含滑点，毛盈亏再扣手续费才是净值
		gross := (tr.ExitPrice - tr.EntryPrice) * tr.Quantity
		if tr.RealizedPnl >= gross {
			t.Fatalf("net pnl %v must be below gross pnl %v", tr.RealizedPnl, gross)
		}
	}
}

func TestBacktestValidation(t *testing.T) {
	s := newTestBacktestService()
	st := &models.Strategy{ID: "test", Kind: models.StrategyKindMomentum, Symbol: "BTCUSDT"}
	limits := s.riskService.DefaultLimits()

	var ve *ValidationError

	// 空序列
	_, err := s.Run(context.Background(), st, nil, 10000, limits)
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for empty candles, got %v", err)
	}

	// 非正价格
	bad := makeCandles(flatCloses(80, 100))
	bad[10].Close = -1
	_, err = s.Run(context.Background(), st, bad, 10000, limits)
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for negative price, got %v", err)
	}

	// 时间戳不递增
	bad = makeCandles(flatCloses(80, 100))
	bad[20].OpenTime = bad[19].OpenTime
	_, err = s.Run(context.Background(), st, bad, 10000, limits)
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for non-monotonic timestamps, got %v", err)
	}

	// 非正初始资金
	good := makeCandles(flatCloses(80, 100))
	_, err = s.Run(context.Background(), st, good, 0, limits)
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for zero capital, got %v", err)
	}

	// 未注册的策略类型
	unknown := &models.Strategy{ID: "test", Kind: models.StrategyKindGenerated, Symbol: "BTCUSDT"}
	_, err = s.Run(context.Background(), unknown, good, 10000, limits)
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for unregistered kind, got %v", err)
	}
}

func TestBacktestContextCancellation(t *testing.T) {
	s := newTestBacktestService()
	st := &models.Strategy{ID: "test", Kind: models.StrategyKindMomentum, Symbol: "BTCUSDT"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, st, makeCandles(flatCloses(80, 100)), 10000, s.riskService.DefaultLimits())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

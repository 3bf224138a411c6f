package service

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/dushixiang/gauntlet/internal/models"
)

func equityCurve(values ...float64) []models.EquityPoint {
	points := make([]models.EquityPoint, 0, len(values))
	for _, v := range values {
		points = append(points, models.EquityPoint{Equity: v})
	}
	return points
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil, nil, 10000)

	if m.TradeCount != 0 {
		t.Fatalf("expected 0 trades, got %d", m.TradeCount)
	}
	if m.FinalEquity != 10000 {
		t.Fatalf("expected final equity 10000, got %v", m.FinalEquity)
	}
	if m.ReturnPercent != 0 {
		t.Fatalf("expected 0 return, got %v", m.ReturnPercent)
	}
	if m.MaxDrawdownPercent != 0 {
		t.Fatalf("expected 0 drawdown, got %v", m.MaxDrawdownPercent)
	}
}

func TestComputeMetricsWinRate(t *testing.T) {
	trades := []models.Trade{
		{RealizedPnl: 100, Fee: 1},
		{RealizedPnl: -50, Fee: 1},
		{RealizedPnl: 30, Fee: 1},
		{RealizedPnl: -10, Fee: 1},
	}
	m := ComputeMetrics(trades, nil, 10000)

	if m.WinCount != 2 || m.LossCount != 2 {
		t.Fatalf("expected 2 wins / 2 losses, got %d / %d", m.WinCount, m.LossCount)
	}
	if m.WinRate != 0.5 {
		t.Fatalf("expected win rate 0.5, got %v", m.WinRate)
	}
	if math.Abs(m.ProfitFactor-130.0/60.0) > 1e-9 {
		t.Fatalf("expected profit factor %.4f, got %v", 130.0/60.0, m.ProfitFactor)
	}
	if m.TotalPnl != 70 {
		t.Fatalf("expected total pnl 70, got %v", m.TotalPnl)
	}
	if m.TotalFee != 4 {
		t.Fatalf("expected total fee 4, got %v", m.TotalFee)
	}
}

func TestComputeMetricsProfitFactorNoLosses(t *testing.T) {
	trades := []models.Trade{{RealizedPnl: 10}, {RealizedPnl: 20}}
	m := ComputeMetrics(trades, nil, 10000)

	// 无亏损时盈亏比折叠为有限最大值，保证整个结构可以序列化
	if m.ProfitFactor != math.MaxFloat64 {
		t.Fatalf("expected capped profit factor, got %v", m.ProfitFactor)
	}
	if m.WinRate != 1 {
		t.Fatalf("expected win rate 1, got %v", m.WinRate)
	}
}

func TestMetricsAlwaysJSONSerializable(t *testing.T) {
	// 全胜会话曾因 +Inf 指标导致状态接口序列化失败
	trades := []models.Trade{{RealizedPnl: 10}, {RealizedPnl: 5}}
	points := equityCurve(10000, 10010, 10015)
	m := ComputeMetrics(trades, points, 10000)

	if _, err := json.Marshal(m); err != nil {
		t.Fatalf("metrics must marshal to json: %v", err)
	}
}

func TestMaxDrawdownFromPeak(t *testing.T) {
	// 峰值 12000，谷底 9000，回撤 25%
	points := equityCurve(10000, 12000, 9000, 11000)
	m := ComputeMetrics(nil, points, 10000)

	if math.Abs(m.MaxDrawdownPercent-25) > 1e-9 {
		t.Fatalf("expected 25%% drawdown, got %v", m.MaxDrawdownPercent)
	}
	if m.FinalEquity != 11000 {
		t.Fatalf("expected final equity 11000, got %v", m.FinalEquity)
	}
	if math.Abs(m.ReturnPercent-10) > 1e-9 {
		t.Fatalf("expected 10%% return, got %v", m.ReturnPercent)
	}
}

func TestFlatCurveHasZeroSharpe(t *testing.T) {
	points := equityCurve(10000, 10000, 10000, 10000)
	m := ComputeMetrics(nil, points, 10000)

	if m.SharpeRatio != 0 {
		t.Fatalf("flat curve should have zero sharpe, got %v", m.SharpeRatio)
	}
	if m.MaxDrawdownPercent != 0 {
		t.Fatalf("flat curve should have zero drawdown, got %v", m.MaxDrawdownPercent)
	}
}

func TestSortinoCappedWithoutDownside(t *testing.T) {
	points := equityCurve(10000, 10100, 10250, 10400)
	m := ComputeMetrics(nil, points, 10000)

	if m.SortinoRatio != math.MaxFloat64 {
		t.Fatalf("monotonic rise should cap sortino, got %v", m.SortinoRatio)
	}
	if m.SharpeRatio <= 0 {
		t.Fatalf("rising curve should have positive sharpe, got %v", m.SharpeRatio)
	}
}

func TestCalmarRatio(t *testing.T) {
	// 回撤 10%（10000->9000），最终收益 20%
	points := equityCurve(10000, 9000, 12000)
	m := ComputeMetrics(nil, points, 10000)

	if math.Abs(m.MaxDrawdownPercent-10) > 1e-9 {
		t.Fatalf("expected 10%% drawdown, got %v", m.MaxDrawdownPercent)
	}
	if math.Abs(m.CalmarRatio-2) > 1e-9 {
		t.Fatalf("expected calmar 2, got %v", m.CalmarRatio)
	}
}

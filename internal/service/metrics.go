package service

import (
	"math"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/pkg/ta"
)

// Metrics 绩效汇总指标，回测结果与晋升门槛评估共用
// 全部从成交记录和资金曲线重算，不依赖任何中间缓存
type Metrics struct {
	TradeCount         int     `json:"trade_count"`
	WinCount           int     `json:"win_count"`
	LossCount          int     `json:"loss_count"`
	WinRate            float64 `json:"win_rate"`      // [0,1]
	ProfitFactor       float64 `json:"profit_factor"` // 总盈利/总亏损
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"` // 正数表示回撤幅度
	TotalPnl           float64 `json:"total_pnl"`
	TotalFee           float64 `json:"total_fee"`
	FinalEquity        float64 `json:"final_equity"`
	ReturnPercent      float64 `json:"return_percent"`
}

// ComputeMetrics 从成交记录和资金曲线计算绩效指标
// 夏普/索提诺按资金曲线逐点收益率计算，不做年化
func ComputeMetrics(trades []models.Trade, points []models.EquityPoint, initialCapital float64) *Metrics {
	m := &Metrics{
		TradeCount:  len(trades),
		FinalEquity: initialCapital,
	}

	grossProfit := 0.0
	grossLoss := 0.0
	for _, t := range trades {
		m.TotalPnl += t.RealizedPnl
		m.TotalFee += t.Fee
		if t.RealizedPnl > 0 {
			m.WinCount++
			grossProfit += t.RealizedPnl
		} else {
			m.LossCount++
			grossLoss += -t.RealizedPnl
		}
	}

	if m.TradeCount > 0 {
		m.WinRate = float64(m.WinCount) / float64(m.TradeCount)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	if len(points) > 0 {
		m.FinalEquity = points[len(points)-1].Equity
	}
	if initialCapital > 0 {
		m.ReturnPercent = (m.FinalEquity - initialCapital) / initialCapital * 100
	}

	m.MaxDrawdownPercent = maxDrawdown(points, initialCapital)

	returns := pointReturns(points)
	if len(returns) >= 2 {
		mean := ta.Mean(returns)
		std := ta.StdDev(returns)
		if std > 0 {
			m.SharpeRatio = mean / std
		}

		downside := downsideDeviation(returns)
		if downside > 0 {
			m.SortinoRatio = mean / downside
		} else if mean > 0 {
			m.SortinoRatio = math.Inf(1)
		}
	}

	if m.MaxDrawdownPercent > 0 {
		m.CalmarRatio = m.ReturnPercent / m.MaxDrawdownPercent
	}

	// encoding/json 不接受 Inf/NaN，比率类指标在出口统一折叠成有限值
	m.ProfitFactor = sanitize(m.ProfitFactor)
	m.SharpeRatio = sanitize(m.SharpeRatio)
	m.SortinoRatio = sanitize(m.SortinoRatio)
	m.CalmarRatio = sanitize(m.CalmarRatio)

	return m
}

// sanitize 把 Inf/NaN 折叠成有限值
func sanitize(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(v, -1) {
		return -math.MaxFloat64
	}
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// maxDrawdown 资金曲线相对历史峰值的最大回撤百分比
func maxDrawdown(points []models.EquityPoint, initialCapital float64) float64 {
	peak := initialCapital
	maxDD := 0.0

	for _, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// pointReturns 资金曲线的逐点收益率序列
func pointReturns(points []models.EquityPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (points[i].Equity-prev)/prev)
	}
	return returns
}

// downsideDeviation 只统计负收益的标准差，索提诺比率用
func downsideDeviation(returns []float64) float64 {
	sum := 0.0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	if len(returns) == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(returns)))
}

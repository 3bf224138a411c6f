package service

import (
	"github.com/dushixiang/gauntlet/internal/strategy"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/ta"
)

// 指标快照至少需要的K线数量，EMA50 之下的历史没有意义
const minSnapshotKlines = 60

// 快照携带的原始序列窗口大小
const snapshotWindow = 64

// IndicatorService 技术指标计算服务
type IndicatorService struct{}

// NewIndicatorService 创建技术指标服务
func NewIndicatorService() *IndicatorService {
	return &IndicatorService{}
}

// BuildSnapshot 从K线序列构建指标快照
// K线必须按时间升序且已收盘；历史不足时返回 nil，调用方跳过本轮信号
func (s *IndicatorService) BuildSnapshot(symbol string, klines []*exchange.Kline) *strategy.Snapshot {
	if len(klines) < minSnapshotKlines {
		return nil
	}

	closes := make([]float64, len(klines))
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))

	for i, k := range klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
	}

	ema20 := ta.EMA(closes, 20)
	ema50 := ta.EMA(closes, 50)
	macd, signal, hist := ta.MACD(closes, 12, 26, 9)
	rsi7 := ta.RSI(closes, 7)
	rsi14 := ta.RSI(closes, 14)
	atr3 := ta.ATR(highs, lows, closes, 3)
	atr14 := ta.ATR(highs, lows, closes, 14)

	last := klines[len(klines)-1]

	return &strategy.Snapshot{
		Symbol:     symbol,
		Time:       last.CloseTime,
		Price:      last.Close,
		EMA20:      ta.Last(ema20, 0),
		EMA50:      ta.Last(ema50, 0),
		MACD:       ta.Last(macd, 0),
		MACDSignal: ta.Last(signal, 0),
		MACDHist:   ta.Last(hist, 0),
		RSI7:       ta.Last(rsi7, 0),
		RSI14:      ta.Last(rsi14, 0),
		ATR3:       ta.Last(atr3, 0),
		ATR14:      ta.Last(atr14, 0),
		Closes:     ta.LastValues(closes, snapshotWindow),
		Highs:      ta.LastValues(highs, snapshotWindow),
		Lows:       ta.LastValues(lows, snapshotWindow),
	}
}

// VolatilityEstimate 波动率估计，ATR 相对价格的比例，风控仓位计算用
func (s *IndicatorService) VolatilityEstimate(snap *strategy.Snapshot) float64 {
	if snap == nil || snap.Price <= 0 {
		return 0
	}
	return snap.ATR14 / snap.Price
}

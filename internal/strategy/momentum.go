package strategy

import (
	"math"

	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/spf13/cast"
)

// Momentum 动量策略
// EMA20/EMA50 定方向，MACD 柱确认动量，RSI 过滤超买超卖追高
type Momentum struct {
	rsiOverbought float64
	rsiOversold   float64
}

// NewMomentum 从参数表创建动量策略
func NewMomentum(params map[string]any) *Momentum {
	s := &Momentum{
		rsiOverbought: 70,
		rsiOversold:   30,
	}
	if v, ok := params["rsi_overbought"]; ok {
		s.rsiOverbought = cast.ToFloat64(v)
	}
	if v, ok := params["rsi_oversold"]; ok {
		s.rsiOversold = cast.ToFloat64(v)
	}
	return s
}

func (s *Momentum) Name() string {
	return "momentum"
}

func (s *Momentum) Lookback() int {
	return 60
}

func (s *Momentum) Signal(snap Snapshot, pos PositionState) Signal {
	bullish := snap.EMA20 > snap.EMA50 && snap.MACDHist > 0
	bearish := snap.EMA20 < snap.EMA50 && snap.MACDHist < 0

	// 持仓时只关心趋势是否反转
	if pos.Holding {
		if pos.Side == exchange.PositionSideLong && snap.EMA20 < snap.EMA50 {
			return Signal{Action: ActionExit, Confidence: 1, Reason: "trend reversed"}
		}
		if pos.Side == exchange.PositionSideShort && snap.EMA20 > snap.EMA50 {
			return Signal{Action: ActionExit, Confidence: 1, Reason: "trend reversed"}
		}
		return Hold()
	}

	confidence := s.confidence(snap)

	if bullish && snap.RSI14 < s.rsiOverbought {
		return Signal{
			Action:     ActionEnterLong,
			Confidence: confidence,
			SizeHint:   confidence,
			Reason:     "ema trend up with positive macd histogram",
		}
	}
	if bearish && snap.RSI14 > s.rsiOversold {
		return Signal{
			Action:     ActionEnterShort,
			Confidence: confidence,
			SizeHint:   confidence,
			Reason:     "ema trend down with negative macd histogram",
		}
	}
	return Hold()
}

// confidence 趋势强度：均线间距相对波动率越大，信号越可信
func (s *Momentum) confidence(snap Snapshot) float64 {
	if snap.ATR14 <= 0 {
		return 0.5
	}
	spread := math.Abs(snap.EMA20-snap.EMA50) / snap.ATR14
	return clamp01(0.4 + spread*0.3)
}

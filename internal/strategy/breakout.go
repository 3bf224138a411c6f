package strategy

import (
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/ta"
	"github.com/spf13/cast"
)

// Breakout 通道突破策略
// 收盘价突破最近 period 根K线的高低点通道时顺势进场，回落到通道中轴离场
type Breakout struct {
	period int
}

// NewBreakout 从参数表创建突破策略
func NewBreakout(params map[string]any) *Breakout {
	s := &Breakout{period: 20}
	if v, ok := params["period"]; ok {
		s.period = cast.ToInt(v)
	}
	return s
}

func (s *Breakout) Name() string {
	return "breakout"
}

func (s *Breakout) Lookback() int {
	return s.period + 1
}

func (s *Breakout) Signal(snap Snapshot, pos PositionState) Signal {
	if len(snap.Highs) < s.period+1 || len(snap.Lows) < s.period+1 {
		return Hold()
	}

	// 通道取不含当前K线的前 period 根，避免用自己突破自己
	highest := ta.Highest(snap.Highs[:len(snap.Highs)-1], s.period)
	lowest := ta.Lowest(snap.Lows[:len(snap.Lows)-1], s.period)
	mid := (highest + lowest) / 2

	if pos.Holding {
		if pos.Side == exchange.PositionSideLong && snap.Price < mid {
			return Signal{Action: ActionExit, Confidence: 1, Reason: "price fell back to channel midline"}
		}
		if pos.Side == exchange.PositionSideShort && snap.Price > mid {
			return Signal{Action: ActionExit, Confidence: 1, Reason: "price rose back to channel midline"}
		}
		return Hold()
	}

	if snap.Price > highest {
		confidence := s.confidence(snap.Price-highest, snap.ATR14)
		return Signal{
			Action:     ActionEnterLong,
			Confidence: confidence,
			SizeHint:   confidence,
			Reason:     "close above channel high",
		}
	}
	if snap.Price < lowest {
		confidence := s.confidence(lowest-snap.Price, snap.ATR14)
		return Signal{
			Action:     ActionEnterShort,
			Confidence: confidence,
			SizeHint:   confidence,
			Reason:     "close below channel low",
		}
	}
	return Hold()
}

// confidence 突破幅度相对波动率越大越可信
func (s *Breakout) confidence(distance, atr float64) float64 {
	if atr <= 0 {
		return 0.5
	}
	return clamp01(0.4 + distance/atr*0.3)
}

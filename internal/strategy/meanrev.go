package strategy

import (
	"math"

	"github.com/dushixiang/gauntlet/pkg/ta"
	"github.com/spf13/cast"
)

// MeanReversion 均值回归策略
// 价格偏离窗口均值超过 entryZ 个标准差时反向进场，回到 exitZ 以内离场
type MeanReversion struct {
	window int
	entryZ float64
	exitZ  float64
}

// NewMeanReversion 从参数表创建均值回归策略
func NewMeanReversion(params map[string]any) *MeanReversion {
	s := &MeanReversion{
		window: 20,
		entryZ: 2.0,
		exitZ:  0.5,
	}
	if v, ok := params["window"]; ok {
		s.window = cast.ToInt(v)
	}
	if v, ok := params["entry_z"]; ok {
		s.entryZ = cast.ToFloat64(v)
	}
	if v, ok := params["exit_z"]; ok {
		s.exitZ = cast.ToFloat64(v)
	}
	return s
}

func (s *MeanReversion) Name() string {
	return "mean_reversion"
}

func (s *MeanReversion) Lookback() int {
	return s.window + 1
}

func (s *MeanReversion) Signal(snap Snapshot, pos PositionState) Signal {
	if len(snap.Closes) < s.window {
		return Hold()
	}

	window := ta.LastValues(snap.Closes, s.window)
	mean := ta.Mean(window)
	std := ta.StdDev(window)
	if std <= 0 {
		return Hold()
	}

	z := (snap.Price - mean) / std

	if pos.Holding {
		// 回到均值附近即离场，不等待反向极值
		if math.Abs(z) <= s.exitZ {
			return Signal{Action: ActionExit, Confidence: 1, Reason: "price reverted to mean"}
		}
		return Hold()
	}

	// 偏离越极端信号越可信，entryZ 处给基础置信度
	confidence := clamp01(0.4 + (math.Abs(z)-s.entryZ)/s.entryZ*0.4)

	if z <= -s.entryZ && snap.RSI14 < 35 {
		return Signal{
			Action:     ActionEnterLong,
			Confidence: confidence,
			SizeHint:   confidence,
			Reason:     "price stretched below mean",
		}
	}
	if z >= s.entryZ && snap.RSI14 > 65 {
		return Signal{
			Action:     ActionEnterShort,
			Confidence: confidence,
			SizeHint:   confidence,
			Reason:     "price stretched above mean",
		}
	}
	return Hold()
}

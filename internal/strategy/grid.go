package strategy

import (
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/ta"
	"github.com/spf13/cast"
)

// Grid 网格策略（只做多）
// 以窗口均值为中枢，价格每向下偏离一个格距买入一格，
// 回升到开仓均价上方一个格距时整体离场
type Grid struct {
	window      int
	spacingRate float64 // 单格间距，价格比例
	maxLevels   int     // 最多吃几格
}

// NewGrid 从参数表创建网格策略
func NewGrid(params map[string]any) *Grid {
	s := &Grid{
		window:      30,
		spacingRate: 0.01,
		maxLevels:   5,
	}
	if v, ok := params["window"]; ok {
		s.window = cast.ToInt(v)
	}
	if v, ok := params["spacing_rate"]; ok {
		s.spacingRate = cast.ToFloat64(v)
	}
	if v, ok := params["max_levels"]; ok {
		s.maxLevels = cast.ToInt(v)
	}
	return s
}

func (s *Grid) Name() string {
	return "grid"
}

func (s *Grid) Lookback() int {
	return s.window
}

func (s *Grid) Signal(snap Snapshot, pos PositionState) Signal {
	if len(snap.Closes) < s.window {
		return Hold()
	}

	center := ta.Mean(ta.LastValues(snap.Closes, s.window))
	spacing := center * s.spacingRate
	if spacing <= 0 {
		return Hold()
	}
	// 网格下沿，跌破后不再吃格，maxLevels 之外的深跌不接
	floor := center - float64(s.maxLevels)*spacing

	if pos.Holding {
		if pos.Side != exchange.PositionSideLong {
			return Hold()
		}
		// 回升一格，整体止盈
		if snap.Price >= pos.EntryPrice+spacing {
			return Signal{Action: ActionExit, Confidence: 1, Reason: "price recovered one grid step"}
		}
		// 相对开仓均价再跌一格，补一格仓位
		if snap.Price <= pos.EntryPrice-spacing && snap.Price >= floor {
			return Signal{
				Action:     ActionEnterLong,
				Confidence: 0.5,
				SizeHint:   1.0 / float64(s.maxLevels),
				Reason:     "price dropped one grid step below average entry",
			}
		}
		return Hold()
	}

	// 无持仓时价格跌破中枢一格即吃第一格
	if snap.Price <= center-spacing && snap.Price >= floor {
		return Signal{
			Action:     ActionEnterLong,
			Confidence: 0.5,
			SizeHint:   1.0 / float64(s.maxLevels),
			Reason:     "price below grid center",
		}
	}
	return Hold()
}

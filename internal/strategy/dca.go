package strategy

import (
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/spf13/cast"
)

// DCA 分批建仓策略（只做多）
// 每次下跌 stepRate 加一批，均价回升 takeProfitRate 整体止盈
type DCA struct {
	stepRate       float64 // 相对开仓均价的加仓跌幅
	takeProfitRate float64 // 相对开仓均价的止盈涨幅
	batches        int     // 计划分几批建仓
}

// NewDCA 从参数表创建分批建仓策略
func NewDCA(params map[string]any) *DCA {
	s := &DCA{
		stepRate:       0.02,
		takeProfitRate: 0.03,
		batches:        4,
	}
	if v, ok := params["step_rate"]; ok {
		s.stepRate = cast.ToFloat64(v)
	}
	if v, ok := params["take_profit_rate"]; ok {
		s.takeProfitRate = cast.ToFloat64(v)
	}
	if v, ok := params["batches"]; ok {
		s.batches = cast.ToInt(v)
	}
	return s
}

func (s *DCA) Name() string {
	return "dca"
}

func (s *DCA) Lookback() int {
	return 15
}

func (s *DCA) Signal(snap Snapshot, pos PositionState) Signal {
	batchHint := 1.0 / float64(s.batches)

	if !pos.Holding {
		// RSI 偏弱时建第一批，避免在冲顶时开始定投
		if snap.RSI14 < 50 {
			return Signal{
				Action:     ActionEnterLong,
				Confidence: 0.5,
				SizeHint:   batchHint,
				Reason:     "first batch on weak rsi",
			}
		}
		return Hold()
	}

	if pos.Side != exchange.PositionSideLong {
		return Hold()
	}

	if snap.Price >= pos.EntryPrice*(1+s.takeProfitRate) {
		return Signal{Action: ActionExit, Confidence: 1, Reason: "average entry take profit reached"}
	}
	if snap.Price <= pos.EntryPrice*(1-s.stepRate) {
		return Signal{
			Action:     ActionEnterLong,
			Confidence: 0.5,
			SizeHint:   batchHint,
			Reason:     "price one step below average entry",
		}
	}
	return Hold()
}

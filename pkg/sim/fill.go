package sim

import (
	"github.com/dushixiang/gauntlet/pkg/exchange"
)

// FillModel 模拟成交模型
// 回测引擎和模拟盘共用同一套参数：滑点、手续费、执行延迟
// 整个模型是纯函数式的，相同输入必然得到相同输出
type FillModel struct {
	SlippagePercent float64 `json:"slippage_percent"` // 不利方向滑点百分比，0.05 表示 0.05%
	MakerFeeBps     float64 `json:"maker_fee_bps"`    // 挂单手续费（基点）
	TakerFeeBps     float64 `json:"taker_fee_bps"`    // 吃单手续费（基点）
	LatencyFraction float64 `json:"latency_fraction"` // 执行延迟，按K线周期的比例表示，[0,1)
}

// Fill 一次模拟成交的结果
type Fill struct {
	Price        float64 // 含滑点的最终成交价
	Fee          float64 // 手续费
	SlippageCost float64 // 滑点成本（相对延迟结算价）
	Notional     float64 // 成交名义价值
}

// SettlementPrice 计算延迟结算价
// 信号产生后订单并非立刻成交，按 LatencyFraction 在信号价与下一根
// K线价之间插值；价格在等待期间继续移动时，以结算价而非信号价成交
func (m FillModel) SettlementPrice(signalPrice, nextPrice float64) float64 {
	if m.LatencyFraction <= 0 {
		return signalPrice
	}
	return signalPrice + (nextPrice-signalPrice)*m.LatencyFraction
}

// Apply 对结算价施加滑点与手续费
// 滑点始终取不利方向：买单向上、卖单向下
func (m FillModel) Apply(settledPrice float64, side exchange.OrderSide, quantity float64, orderType exchange.OrderType) Fill {
	slip := settledPrice * m.SlippagePercent / 100

	var fillPrice float64
	if side == exchange.OrderSideBuy {
		fillPrice = settledPrice + slip
	} else {
		fillPrice = settledPrice - slip
	}

	notional := fillPrice * quantity

	feeBps := m.TakerFeeBps
	if orderType == exchange.OrderTypeLimit {
		feeBps = m.MakerFeeBps
	}
	fee := notional * feeBps / 10000

	return Fill{
		Price:        fillPrice,
		Fee:          fee,
		SlippageCost: slip * quantity,
		Notional:     notional,
	}
}

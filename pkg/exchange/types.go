package exchange

// 通用交易类型定义，独立于任何特定交易所
// 内部模型统一使用描述性字段名，交易所API的简写字段只在客户端内部转换

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// MarginType 保证金类型
type MarginType string

const (
	MarginTypeCrossed  MarginType = "CROSSED"  // 全仓
	MarginTypeIsolated MarginType = "ISOLATED" // 逐仓
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"  // 限价单
	OrderTypeMarket OrderType = "MARKET" // 市价单
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// String 方法用于日志输出
func (s OrderSide) String() string {
	return string(s)
}

// Opposite 返回相反的订单方向
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (s PositionSide) String() string {
	return string(s)
}

// EntrySide 返回开仓时对应的订单方向
func (s PositionSide) EntrySide() OrderSide {
	if s == PositionSideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide 返回平仓时对应的订单方向
func (s PositionSide) ExitSide() OrderSide {
	return s.EntrySide().Opposite()
}

func (m MarginType) String() string {
	return string(m)
}

func (o OrderType) String() string {
	return string(o)
}

func (o OrderStatus) String() string {
	return string(o)
}

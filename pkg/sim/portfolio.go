package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/gauntlet/pkg/exchange"
)

// Position 虚拟持仓，每个交易对至多一个
type Position struct {
	Symbol     string
	Side       exchange.PositionSide
	Quantity   float64
	EntryPrice float64
	Leverage   int
	MarginType exchange.MarginType
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// UnrealizedPnl 按标记价格计算未实现盈亏
func (p *Position) UnrealizedPnl(markPrice float64) float64 {
	if p.Side == exchange.PositionSideShort {
		return (p.EntryPrice - markPrice) * p.Quantity
	}
	return (markPrice - p.EntryPrice) * p.Quantity
}

// Notional 按标记价格计算持仓名义价值
func (p *Position) Notional(markPrice float64) float64 {
	return markPrice * p.Quantity
}

// Portfolio 虚拟账户，每个会话独立持有一份
// 现金只随已实现盈亏和手续费变动，权益 = 现金 + 未实现盈亏
type Portfolio struct {
	mu             sync.RWMutex
	cash           float64
	initialCapital float64
	positions      map[string]*Position // symbol -> position
}

// NewPortfolio 创建虚拟账户
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		cash:           initialCapital,
		initialCapital: initialCapital,
		positions:      make(map[string]*Position),
	}
}

// Cash 当前现金
func (w *Portfolio) Cash() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cash
}

// InitialCapital 初始资金
func (w *Portfolio) InitialCapital() float64 {
	return w.initialCapital
}

// Debit 扣减现金（手续费等）
func (w *Portfolio) Debit(amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cash -= amount
}

// Open 开仓或加仓
// 同向加仓按加权平均成本合并；反向开仓是调用方的错误，直接拒绝
func (w *Portfolio) Open(symbol string, side exchange.PositionSide, quantity, price float64, leverage int, marginType exchange.MarginType, at time.Time) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %.8f", quantity)
	}
	if leverage < 1 {
		leverage = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	requiredMargin := price * quantity / float64(leverage)
	if requiredMargin > w.cash {
		return fmt.Errorf("insufficient balance: required %.2f, available %.2f", requiredMargin, w.cash)
	}

	if existing, exists := w.positions[symbol]; exists {
		if existing.Side != side {
			return fmt.Errorf("cannot open %s position while holding %s position for %s", side, existing.Side, symbol)
		}

		totalCost := existing.EntryPrice*existing.Quantity + price*quantity
		totalQuantity := existing.Quantity + quantity
		existing.EntryPrice = totalCost / totalQuantity
		existing.Quantity = totalQuantity
		return nil
	}

	w.positions[symbol] = &Position{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: price,
		Leverage:   leverage,
		MarginType: marginType,
		OpenedAt:   at,
	}
	return nil
}

// Close 平仓，返回已实现盈亏以及是否完全平仓
func (w *Portfolio) Close(symbol string, quantity, price float64) (realizedPnl float64, fullyClosed bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos, exists := w.positions[symbol]
	if !exists {
		return 0, false, fmt.Errorf("no position to close for %s", symbol)
	}

	if quantity <= 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}

	if pos.Side == exchange.PositionSideLong {
		realizedPnl = (price - pos.EntryPrice) * quantity
	} else {
		realizedPnl = (pos.EntryPrice - price) * quantity
	}

	w.cash += realizedPnl

	if quantity >= pos.Quantity {
		delete(w.positions, symbol)
		return realizedPnl, true, nil
	}

	pos.Quantity -= quantity
	return realizedPnl, false, nil
}

// SetStops 设置持仓的止损止盈价格
func (w *Portfolio) SetStops(symbol string, stopLoss, takeProfit float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pos, exists := w.positions[symbol]; exists {
		pos.StopLoss = stopLoss
		pos.TakeProfit = takeProfit
	}
}

// Position 返回指定交易对持仓的副本
func (w *Portfolio) Position(symbol string) (Position, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	pos, exists := w.positions[symbol]
	if !exists {
		return Position{}, false
	}
	return *pos, true
}

// Positions 返回所有持仓的副本，监控读取用，避免持锁检查
func (w *Portfolio) Positions() []Position {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Position, 0, len(w.positions))
	for _, pos := range w.positions {
		result = append(result, *pos)
	}
	return result
}

// OpenCount 当前持仓数量
func (w *Portfolio) OpenCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.positions)
}

// Equity 按标记价格计算账户权益
// 缺少标记价格的持仓按开仓价估值
func (w *Portfolio) Equity(markPrices map[string]float64) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	equity := w.cash
	for symbol, pos := range w.positions {
		markPrice, ok := markPrices[symbol]
		if !ok {
			markPrice = pos.EntryPrice
		}
		equity += pos.UnrealizedPnl(markPrice)
	}
	return equity
}

// GrossExposure 按标记价格计算总名义敞口
func (w *Portfolio) GrossExposure(markPrices map[string]float64) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	exposure := 0.0
	for symbol, pos := range w.positions {
		markPrice, ok := markPrices[symbol]
		if !ok {
			markPrice = pos.EntryPrice
		}
		exposure += pos.Notional(markPrice)
	}
	return exposure
}

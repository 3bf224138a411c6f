package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/strategy"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/sim"
	"go.uber.org/zap"
)

// 会话内存里保留的K线窗口，指标计算够用即可
const sessionHistoryLimit = 200

// 止损止盈巡检间隔
const stopCheckInterval = 5 * time.Second

// tradingSession 一个运行中的模拟盘/实盘会话
// 独占一个goroutine消费共享行情流，会话之间不共享任何可变状态；
// live 模式复用同一套循环，只是结算时先把订单发给真实交易所
type tradingSession struct {
	manager  *PaperService
	logger   *zap.Logger
	signaler strategy.Signaler

	sessionID  string
	strategyID string
	symbol     string
	mode       models.SessionMode
	limits     models.RiskLimits
	leverage   int

	// 从策略参数解出的保护性止损止盈比例，0 表示不启用
	stopLossRate   float64
	takeProfitRate float64

	fill    sim.FillModel
	latency time.Duration
	live    exchange.LiveExecutor // 仅 live 模式非空

	portfolio *sim.Portfolio

	degraded atomic.Bool

	mu             sync.Mutex
	status         models.SessionStatus
	failReason     string
	intakeClosed   bool
	lot            openLot
	history        []*exchange.Kline
	lastPrice      float64
	peakEquity     float64
	dayStart       time.Time
	dayStartEquity float64

	candles     <-chan *exchange.Kline
	unsubscribe func()

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	inflight sync.WaitGroup
}

// run 会话主循环，行情、止损巡检和停止信号在同一个select里仲裁
func (p *tradingSession) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(stopCheckInterval)
	defer ticker.Stop()

	p.logger.Info("session loop started",
		zap.String("session_id", p.sessionID),
		zap.String("symbol", p.symbol),
		zap.String("mode", string(p.mode)))

	for {
		select {
		case <-p.stopCh:
			return
		case k, ok := <-p.candles:
			if !ok {
				return
			}
			p.onCandle(k)
		case <-ticker.C:
			p.checkStops()
		}
	}
}

// onCandle 处理一根收盘K线：记资金曲线，必要时产生信号
func (p *tradingSession) onCandle(k *exchange.Kline) {
	p.mu.Lock()

	p.history = append(p.history, k)
	if len(p.history) > sessionHistoryLimit {
		p.history = p.history[len(p.history)-sessionHistoryLimit:]
	}
	p.lastPrice = k.Close

	// 跨日时重置当日亏损基准
	if p.dayStart.IsZero() || k.CloseTime.YearDay() != p.dayStart.YearDay() || k.CloseTime.Year() != p.dayStart.Year() {
		p.dayStart = k.CloseTime
		p.dayStartEquity = p.portfolio.Equity(map[string]float64{p.symbol: k.Close})
	}

	equity := p.portfolio.Equity(map[string]float64{p.symbol: k.Close})
	if equity > p.peakEquity {
		p.peakEquity = equity
	}
	drawdown := 0.0
	if p.peakEquity > 0 {
		drawdown = (p.peakEquity - equity) / p.peakEquity * 100
	}

	running := p.status == models.SessionStatusRunning && !p.intakeClosed
	history := p.history
	p.mu.Unlock()

	p.manager.persistEquityPoint(p, models.EquityPoint{
		SessionID:       p.sessionID,
		Equity:          equity,
		DrawdownPercent: drawdown,
		RecordedAt:      k.CloseTime,
	})

	// 暂停或停止中的会话只记账，不产生新信号
	if !running {
		return
	}
	if len(history) < p.signaler.Lookback() {
		return
	}

	snap := p.manager.indicatorService.BuildSnapshot(p.symbol, history)
	if snap == nil {
		return
	}

	pos, holding := p.portfolio.Position(p.symbol)
	state := strategy.PositionState{Holding: holding}
	if holding {
		state.Side = pos.Side
		state.EntryPrice = pos.EntryPrice
		state.Quantity = pos.Quantity
	}

	sig := p.signaler.Signal(*snap, state)

	switch sig.Action {
	case strategy.ActionExit:
		if holding {
			p.scheduleExit(pos, snap.Price, "signal")
		}

	case strategy.ActionEnterLong, strategy.ActionEnterShort:
		side := exchange.PositionSideLong
		if sig.Action == strategy.ActionEnterShort {
			side = exchange.PositionSideShort
		}
		if holding && pos.Side != side {
			return
		}
		p.scheduleEntry(snap, side, sig)
	}
}

// scheduleEntry 风控定仓后把开仓请求挂到延迟结算
func (p *tradingSession) scheduleEntry(snap *strategy.Snapshot, side exchange.PositionSide, sig strategy.Signal) {
	equity := p.portfolio.Equity(map[string]float64{p.symbol: snap.Price})
	volatility := p.manager.indicatorService.VolatilityEstimate(snap)

	notional := p.manager.riskService.Size(sig.Confidence, volatility, equity, p.limits)
	if sig.SizeHint > 0 && sig.SizeHint < 1 {
		notional *= sig.SizeHint
	}
	if notional <= 0 || snap.Price <= 0 {
		return
	}
	quantity := notional / snap.Price

	order := OrderRequest{
		Symbol:   p.symbol,
		Side:     side,
		Quantity: quantity,
		Price:    snap.Price,
		Leverage: p.leverage,
	}
	if allowed, reason := p.manager.riskService.Check(order, p.portfolio, p.limits); !allowed {
		p.logger.Debug("order denied by risk check",
			zap.String("session_id", p.sessionID),
			zap.String("reason", reason))
		return
	}

	p.settleLater(func() {
		p.settleEntry(side, quantity, snap.Price)
	})
}

// scheduleExit 把平仓请求挂到延迟结算
func (p *tradingSession) scheduleExit(pos sim.Position, signalPrice float64, exitReason string) {
	p.settleLater(func() {
		p.settleExit(pos.Side, signalPrice, exitReason)
	})
}

// settleLater 延迟结算定时器
// 会话停止时在途的结算直接丢弃，停止流程会等待这些goroutine退出
func (p *tradingSession) settleLater(settle func()) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		select {
		case <-time.After(p.latency):
		case <-p.stopCh:
			return
		}
		settle()
	}()
}

// settleEntry 延迟到期后的开仓结算
func (p *tradingSession) settleEntry(side exchange.PositionSide, quantity, signalPrice float64) {
	settled, ok := p.settlementPrice(signalPrice)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.intakeClosed || p.status != models.SessionStatusRunning {
		return
	}

	fillPrice := settled
	fee := 0.0
	slippage := 0.0

	if p.live != nil {
		result, err := p.live.Place(context.Background(), exchange.LiveOrder{
			Symbol:   p.symbol,
			Side:     side.EntrySide(),
			Quantity: quantity,
		})
		if err != nil {
			// 实盘下单失败（含结果未知的超时）一律不重试，直接停牌
			p.failExecutionLocked(err)
			return
		}
		if result.AvgPrice > 0 {
			fillPrice = result.AvgPrice
		}
		if result.ExecutedQty > 0 {
			quantity = result.ExecutedQty
		}
		fee = fillPrice * quantity * p.fill.TakerFeeBps / 10000
	} else {
		fill := p.fill.Apply(settled, side.EntrySide(), quantity, exchange.OrderTypeMarket)
		fillPrice = fill.Price
		fee = fill.Fee
		slippage = fill.SlippageCost
	}

	now := time.Now()
	if err := p.portfolio.Open(p.symbol, side, quantity, fillPrice, p.leverage, exchange.MarginTypeCrossed, now); err != nil {
		p.logger.Debug("skip open", zap.String("session_id", p.sessionID), zap.Error(err))
		return
	}

	p.portfolio.Debit(fee)
	p.lot.fees += fee
	p.lot.slippage += slippage

	pos, _ := p.portfolio.Position(p.symbol)
	if p.stopLossRate > 0 || p.takeProfitRate > 0 {
		stopLoss, takeProfit := protectiveStops(pos.Side, pos.EntryPrice, p.stopLossRate, p.takeProfitRate)
		p.portfolio.SetStops(p.symbol, stopLoss, takeProfit)
		pos, _ = p.portfolio.Position(p.symbol)
	}

	p.logger.Info("position opened",
		zap.String("session_id", p.sessionID),
		zap.String("symbol", p.symbol),
		zap.String("side", pos.Side.String()),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("price", fillPrice))

	p.manager.persistPosition(p, pos)
}

// settleExit 延迟到期后的平仓结算
func (p *tradingSession) settleExit(side exchange.PositionSide, signalPrice float64, exitReason string) {
	settled, ok := p.settlementPrice(signalPrice)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.intakeClosed || p.status != models.SessionStatusRunning {
		return
	}
	p.closeLocked(side, settled, exitReason)
}

// closeLocked 全量平仓并落库，调用方必须持有 p.mu
func (p *tradingSession) closeLocked(side exchange.PositionSide, settled float64, exitReason string) {
	pos, holding := p.portfolio.Position(p.symbol)
	if !holding || pos.Side != side {
		return
	}

	fillPrice := settled
	fee := 0.0
	slippage := 0.0

	if p.live != nil {
		result, err := p.live.Place(context.Background(), exchange.LiveOrder{
			Symbol:     p.symbol,
			Side:       side.ExitSide(),
			Quantity:   pos.Quantity,
			ReduceOnly: true,
		})
		if err != nil {
			p.failExecutionLocked(err)
			return
		}
		if result.AvgPrice > 0 {
			fillPrice = result.AvgPrice
		}
		fee = fillPrice * pos.Quantity * p.fill.TakerFeeBps / 10000
	} else {
		fill := p.fill.Apply(settled, side.ExitSide(), pos.Quantity, exchange.OrderTypeMarket)
		fillPrice = fill.Price
		fee = fill.Fee
		slippage = fill.SlippageCost
	}

	realized, _, err := p.portfolio.Close(p.symbol, pos.Quantity, fillPrice)
	if err != nil {
		p.logger.Warn("failed to close position", zap.String("session_id", p.sessionID), zap.Error(err))
		return
	}
	p.portfolio.Debit(fee)

	totalFee := p.lot.fees + fee
	totalSlippage := p.lot.slippage + slippage
	p.lot = openLot{}

	trade := models.Trade{
		SessionID:    p.sessionID,
		Symbol:       p.symbol,
		Side:         pos.Side.String(),
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    fillPrice,
		Leverage:     pos.Leverage,
		Fee:          totalFee,
		SlippageCost: totalSlippage,
		RealizedPnl:  realized - totalFee,
		ExitReason:   exitReason,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     time.Now(),
	}

	p.logger.Info("position closed",
		zap.String("session_id", p.sessionID),
		zap.String("symbol", p.symbol),
		zap.String("exit_reason", exitReason),
		zap.Float64("realized_pnl", trade.RealizedPnl))

	p.manager.persistTrade(p, trade)
}

// settlementPrice 结算价：信号价向结算时刻的最新价插值
// 拿不到最新价按行情缺口处理，跳过本次结算，不杀会话
func (p *tradingSession) settlementPrice(signalPrice float64) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := p.manager.marketService.CurrentPrice(ctx, p.symbol)
	if err != nil {
		p.logger.Warn("market data gap at settlement, order discarded",
			zap.String("session_id", p.sessionID),
			zap.String("symbol", p.symbol),
			zap.Error(err))
		return 0, false
	}
	return p.fill.SettlementPrice(signalPrice, current), true
}

// checkStops 独立于K线节奏的止损止盈巡检
func (p *tradingSession) checkStops() {
	pos, holding := p.portfolio.Position(p.symbol)
	if !holding || (pos.StopLoss <= 0 && pos.TakeProfit <= 0) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	price, err := p.manager.marketService.CurrentPrice(ctx, p.symbol)
	if err != nil {
		return
	}

	triggered := ""
	if pos.Side == exchange.PositionSideLong {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			triggered = "stop_loss"
		} else if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			triggered = "take_profit"
		}
	} else {
		if pos.StopLoss > 0 && price >= pos.StopLoss {
			triggered = "stop_loss"
		} else if pos.TakeProfit > 0 && price <= pos.TakeProfit {
			triggered = "take_profit"
		}
	}
	if triggered == "" {
		return
	}

	// 保护性退出不走延迟结算，直接按当前价成交；暂停中的会话同样受保护
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.intakeClosed || p.status.Terminal() {
		return
	}
	p.closeLocked(pos.Side, price, triggered)
}

// currentPrice 最近一根收盘K线的价格
func (p *tradingSession) currentPrice() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrice
}

// snapshot 风控巡检用的一次性状态拷贝
func (p *tradingSession) snapshot() SessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := p.lastPrice
	equity := p.portfolio.Equity(map[string]float64{p.symbol: price})

	return SessionSnapshot{
		SessionID:      p.sessionID,
		StrategyID:     p.strategyID,
		Mode:           p.mode,
		Status:         p.status,
		Equity:         equity,
		PeakEquity:     p.peakEquity,
		DayStartEquity: p.dayStartEquity,
		InitialCapital: p.portfolio.InitialCapital(),
		Limits:         p.limits,
	}
}

// tripBreaker 风控熔断：关进单、市价清仓、会话置为失败
// 幂等由状态检查保证，重复触发只生效一次
func (p *tradingSession) tripBreaker(reason string) {
	p.mu.Lock()

	if p.status.Terminal() || p.intakeClosed {
		p.mu.Unlock()
		return
	}
	p.intakeClosed = true
	p.status = models.SessionStatusFailed
	p.failReason = reason

	if pos, holding := p.portfolio.Position(p.symbol); holding {
		price := p.lastPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		p.closeBreachedLocked(pos, price)
	}
	p.mu.Unlock()

	p.shutdown()
	p.manager.finalizeSession(p, models.SessionStatusFailed, reason)
}

// closeBreachedLocked 熔断清仓，按最近价格即刻成交
func (p *tradingSession) closeBreachedLocked(pos sim.Position, price float64) {
	saved := p.status
	p.status = models.SessionStatusRunning // closeLocked 校验用，立即恢复
	p.closeLocked(pos.Side, price, "circuit_breaker")
	p.status = saved
}

// failExecutionLocked 实盘执行失败停牌，调用方持有 p.mu
func (p *tradingSession) failExecutionLocked(err error) {
	p.logger.Error("live execution failed, halting session",
		zap.String("session_id", p.sessionID),
		zap.Error(err))

	p.intakeClosed = true
	p.status = models.SessionStatusFailed
	if reason := exchange.RejectReason(err); reason != "" {
		p.failReason = "order rejected: " + reason
	} else {
		p.failReason = "execution error: " + err.Error()
	}

	go func() {
		p.shutdown()
		p.manager.finalizeSession(p, models.SessionStatusFailed, p.failReason)
	}()
}

// stop 两阶段停止
// 先关进单，再丢弃/等完在途结算，最后才落终态，
// 保证停止之后不会再有成交落库
func (p *tradingSession) stop() {
	p.mu.Lock()
	p.intakeClosed = true
	alreadyTerminal := p.status.Terminal()
	p.mu.Unlock()

	p.shutdown()

	if !alreadyTerminal {
		p.mu.Lock()
		p.status = models.SessionStatusStopped
		p.mu.Unlock()
		p.manager.finalizeSession(p, models.SessionStatusStopped, "")
	}
}

// shutdown 停主循环、等在途结算、退订行情
func (p *tradingSession) shutdown() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh
	p.inflight.Wait()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

// pause 暂停：保留持仓与止损巡检，不产生新信号
func (p *tradingSession) pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != models.SessionStatusRunning {
		return false
	}
	p.status = models.SessionStatusPaused
	return true
}

// resume 恢复
func (p *tradingSession) resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != models.SessionStatusPaused {
		return false
	}
	p.status = models.SessionStatusRunning
	return true
}

// markDegraded 持久化降级，会话继续在内存里运行
// 结算路径持有 p.mu 时也会调用，所以不能走互斥锁
func (p *tradingSession) markDegraded() {
	p.degraded.Store(true)
}

// protectiveStops 按开仓价计算保护性止损止盈价格
func protectiveStops(side exchange.PositionSide, entryPrice, stopLossRate, takeProfitRate float64) (stopLoss, takeProfit float64) {
	if side == exchange.PositionSideLong {
		if stopLossRate > 0 {
			stopLoss = entryPrice * (1 - stopLossRate)
		}
		if takeProfitRate > 0 {
			takeProfit = entryPrice * (1 + takeProfitRate)
		}
		return stopLoss, takeProfit
	}

	if stopLossRate > 0 {
		stopLoss = entryPrice * (1 + stopLossRate)
	}
	if takeProfitRate > 0 {
		takeProfit = entryPrice * (1 - takeProfitRate)
	}
	return stopLoss, takeProfit
}

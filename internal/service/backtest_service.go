package service

import (
	"context"
	"fmt"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/strategy"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/sim"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ValidationError 输入数据或参数不合法，任何状态变更之前快速失败
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// BacktestResult 一次回测的完整输出
// 成交与资金曲线不带ID，持久化时再分配，保证引擎输出完全可复现
type BacktestResult struct {
	Symbol         string               `json:"symbol"`
	InitialCapital float64              `json:"initial_capital"`
	FinalEquity    float64              `json:"final_equity"`
	Trades         []models.Trade       `json:"trades"`
	EquityPoints   []models.EquityPoint `json:"equity_points"`
	Metrics        *Metrics             `json:"metrics"`
}

// BacktestService 回测引擎
// 单次运行是同步单线程的，多次运行之间无共享可变状态，可以并行
type BacktestService struct {
	logger           *zap.Logger
	fill             sim.FillModel
	indicatorService *IndicatorService
	riskService      *RiskService
}

// NewBacktestService 创建回测引擎
func NewBacktestService(conf *config.Config, indicatorService *IndicatorService,
	riskService *RiskService, logger *zap.Logger) *BacktestService {
	return &BacktestService{
		logger: logger,
		fill: sim.FillModel{
			SlippagePercent: conf.Sim.SlippagePercent,
			MakerFeeBps:     conf.Sim.MakerFeeBps,
			TakerFeeBps:     conf.Sim.TakerFeeBps,
			LatencyFraction: conf.Sim.LatencyFraction,
		},
		indicatorService: indicatorService,
		riskService:      riskService,
	}
}

// openLot 未平仓位累计的摩擦成本，平仓时并入 Trade
type openLot struct {
	fees     float64
	slippage float64
}

// Run 在历史K线上执行一次回测
// 确定性：不读时钟、不产生随机数、不分配ID，相同输入必然产生相同输出；
// 取消只在K线之间生效，单根K线内的状态变更是原子的
func (s *BacktestService) Run(ctx context.Context, st *models.Strategy, candles []*exchange.Kline,
	initialCapital float64, limits models.RiskLimits) (*BacktestResult, error) {

	if err := validateCandles(candles); err != nil {
		return nil, err
	}
	if initialCapital <= 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("initial capital must be positive, got %.2f", initialCapital)}
	}

	signaler, err := strategy.New(st.Kind, st.Params)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	leverage := cast.ToInt(st.Params["leverage"])
	if leverage < 1 {
		leverage = 1
	}

	portfolio := sim.NewPortfolio(initialCapital)
	lot := openLot{}
	peak := initialCapital

	result := &BacktestResult{
		Symbol:         st.Symbol,
		InitialCapital: initialCapital,
		Trades:         []models.Trade{},
		EquityPoints:   make([]models.EquityPoint, 0, len(candles)),
	}

	for i, candle := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// 延迟结算价：向下一根K线的收盘价插值，最后一根无处可插
		nextClose := candle.Close
		if i+1 < len(candles) {
			nextClose = candles[i+1].Close
		}
		settled := s.fill.SettlementPrice(candle.Close, nextClose)

		if i+1 >= signaler.Lookback() {
			snap := s.indicatorService.BuildSnapshot(st.Symbol, candles[:i+1])
			if snap != nil {
				s.step(signaler, snap, candle, settled, leverage, portfolio, &lot, limits, result)
			}
		}

		// 最后一根K线强制平仓，未平仓位不留到回测之外
		if i == len(candles)-1 {
			if pos, holding := portfolio.Position(st.Symbol); holding {
				s.closePosition(pos, candle, candle.Close, "session_end", portfolio, &lot, result)
			}
		}

		equity := portfolio.Equity(map[string]float64{st.Symbol: candle.Close})
		if equity > peak {
			peak = equity
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - equity) / peak * 100
		}

		result.EquityPoints = append(result.EquityPoints, models.EquityPoint{
			Equity:          equity,
			DrawdownPercent: drawdown,
			RecordedAt:      candle.CloseTime,
		})
	}

	result.FinalEquity = portfolio.Equity(nil)
	result.Metrics = ComputeMetrics(result.Trades, result.EquityPoints, initialCapital)

	s.logger.Info("backtest finished",
		zap.String("strategy_id", st.ID),
		zap.String("symbol", st.Symbol),
		zap.Int("candles", len(candles)),
		zap.Int("trades", result.Metrics.TradeCount),
		zap.Float64("final_equity", result.FinalEquity))

	return result, nil
}

// step 处理一根K线上的信号
func (s *BacktestService) step(signaler strategy.Signaler, snap *strategy.Snapshot,
	candle *exchange.Kline, settled float64, leverage int, portfolio *sim.Portfolio,
	lot *openLot, limits models.RiskLimits, result *BacktestResult) {

	pos, holding := portfolio.Position(snap.Symbol)
	state := strategy.PositionState{Holding: holding}
	if holding {
		state.Side = pos.Side
		state.EntryPrice = pos.EntryPrice
		state.Quantity = pos.Quantity
	}

	sig := signaler.Signal(*snap, state)

	switch sig.Action {
	case strategy.ActionExit:
		if holding {
			s.closePosition(pos, candle, settled, "signal", portfolio, lot, result)
		}

	case strategy.ActionEnterLong, strategy.ActionEnterShort:
		side := exchange.PositionSideLong
		if sig.Action == strategy.ActionEnterShort {
			side = exchange.PositionSideShort
		}
		// 持有反向仓位时忽略进场信号，策略应当先发 exit
		if holding && pos.Side != side {
			return
		}
		s.openPosition(snap, side, sig, candle, settled, leverage, portfolio, lot, limits, result)
	}
}

// openPosition 风控定仓、风控检查、模拟成交
func (s *BacktestService) openPosition(snap *strategy.Snapshot, side exchange.PositionSide,
	sig strategy.Signal, candle *exchange.Kline, settled float64, leverage int,
	portfolio *sim.Portfolio, lot *openLot, limits models.RiskLimits, result *BacktestResult) {

	equity := portfolio.Equity(map[string]float64{snap.Symbol: snap.Price})
	volatility := s.indicatorService.VolatilityEstimate(snap)

	notional := s.riskService.Size(sig.Confidence, volatility, equity, limits)
	if sig.SizeHint > 0 && sig.SizeHint < 1 {
		notional *= sig.SizeHint
	}
	if notional <= 0 || snap.Price <= 0 {
		return
	}
	quantity := notional / snap.Price

	order := OrderRequest{
		Symbol:   snap.Symbol,
		Side:     side,
		Quantity: quantity,
		Price:    snap.Price,
		Leverage: leverage,
	}
	if allowed, reason := s.riskService.Check(order, portfolio, limits); !allowed {
		s.logger.Debug("order denied by risk check",
			zap.String("symbol", snap.Symbol),
			zap.String("reason", reason))
		return
	}

	fill := s.fill.Apply(settled, side.EntrySide(), quantity, exchange.OrderTypeMarket)

	// 资金不足不是错误，跳过本次开仓继续回测
	if err := portfolio.Open(snap.Symbol, side, quantity, fill.Price, leverage, exchange.MarginTypeCrossed, candle.CloseTime); err != nil {
		s.logger.Debug("skip open", zap.String("symbol", snap.Symbol), zap.Error(err))
		return
	}

	portfolio.Debit(fill.Fee)
	lot.fees += fill.Fee
	lot.slippage += fill.SlippageCost
}

// closePosition 全量平仓并生成成交记录
func (s *BacktestService) closePosition(pos sim.Position, candle *exchange.Kline, settled float64,
	exitReason string, portfolio *sim.Portfolio, lot *openLot, result *BacktestResult) {

	fill := s.fill.Apply(settled, pos.Side.ExitSide(), pos.Quantity, exchange.OrderTypeMarket)

	realized, _, err := portfolio.Close(pos.Symbol, pos.Quantity, fill.Price)
	if err != nil {
		s.logger.Warn("failed to close position", zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}
	portfolio.Debit(fill.Fee)

	totalFee := lot.fees + fill.Fee
	totalSlippage := lot.slippage + fill.SlippageCost

	result.Trades = append(result.Trades, models.Trade{
		Symbol:       pos.Symbol,
		Side:         pos.Side.String(),
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    fill.Price,
		Leverage:     pos.Leverage,
		Fee:          totalFee,
		SlippageCost: totalSlippage,
		RealizedPnl:  realized - totalFee,
		ExitReason:   exitReason,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     candle.CloseTime,
	})

	*lot = openLot{}
}

// validateCandles 校验K线序列：时间严格递增、价格为正
func validateCandles(candles []*exchange.Kline) error {
	if len(candles) == 0 {
		return &ValidationError{Reason: "empty candle series"}
	}

	for i, c := range candles {
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			return &ValidationError{Reason: fmt.Sprintf("non-positive price at candle %d", i)}
		}
		if i > 0 && !candles[i-1].OpenTime.Before(c.OpenTime) {
			return &ValidationError{Reason: fmt.Sprintf("non-monotonic timestamp at candle %d", i)}
		}
	}
	return nil
}

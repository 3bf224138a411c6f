package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/repo"
	"github.com/dushixiang/gauntlet/internal/strategy"
	"github.com/dushixiang/gauntlet/internal/xe"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/sim"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaperService 模拟盘/实盘会话管理器
// 每个会话一个goroutine，共享行情流只读广播；
// 同时实现风控巡检所需的 SessionRegistry
type PaperService struct {
	logger *zap.Logger

	*orz.Service

	conf *config.Config

	strategyRepo    *repo.StrategyRepo
	sessionRepo     *repo.SessionRepo
	tradeRepo       *repo.TradeRepo
	positionRepo    *repo.PositionRepo
	equityPointRepo *repo.EquityPointRepo

	marketService    *MarketService
	indicatorService *IndicatorService
	riskService      *RiskService
	liveExecutor     exchange.LiveExecutor

	// 会话终结回调，生命周期控制器挂载，用于联动策略状态与通知
	onSessionEnd func(sess SessionSnapshot, status models.SessionStatus, reason string)

	mu       sync.Mutex
	sessions map[string]*tradingSession
}

// NewPaperService 创建会话管理器
func NewPaperService(db *gorm.DB, conf *config.Config,
	marketService *MarketService, indicatorService *IndicatorService,
	riskService *RiskService, binanceClient *exchange.BinanceClient,
	logger *zap.Logger) *PaperService {
	return &PaperService{
		logger:           logger,
		Service:          orz.NewService(db),
		conf:             conf,
		strategyRepo:     repo.NewStrategyRepo(db),
		sessionRepo:      repo.NewSessionRepo(db),
		tradeRepo:        repo.NewTradeRepo(db),
		positionRepo:     repo.NewPositionRepo(db),
		equityPointRepo:  repo.NewEquityPointRepo(db),
		marketService:    marketService,
		indicatorService: indicatorService,
		riskService:      riskService,
		liveExecutor:     binanceClient,
		sessions:         make(map[string]*tradingSession),
	}
}

// OnSessionEnd 注册会话终结回调
func (m *PaperService) OnSessionEnd(fn func(sess SessionSnapshot, status models.SessionStatus, reason string)) {
	m.onSessionEnd = fn
}

// Start 为策略启动一个模拟盘或实盘会话
// 不变式：每个策略至多一个非终态的同模式会话
func (m *PaperService) Start(ctx context.Context, st *models.Strategy, mode models.SessionMode, limits models.RiskLimits) (*models.Session, error) {
	if mode != models.SessionModePaper && mode != models.SessionModeLive {
		return nil, xe.ErrNotSupport
	}

	if _, err := m.sessionRepo.FindActiveByStrategy(ctx, st.ID, mode); err == nil {
		return nil, xe.ErrPaperSessionExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	signaler, err := strategy.New(st.Kind, st.Params)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	session := &models.Session{
		ID:             ulid.Make().String(),
		StrategyID:     st.ID,
		Mode:           mode,
		Symbol:         st.Symbol,
		InitialCapital: m.conf.Pipeline.InitialCapital,
		Status:         models.SessionStatusInitializing,
		Limits:         limits,
		StartedAt:      time.Now(),
	}
	if err := m.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	runtime, err := m.buildRuntime(ctx, st, session, signaler, sim.NewPortfolio(session.InitialCapital), nil)
	if err != nil {
		_ = m.sessionRepo.UpdateStatus(ctx, session.ID, models.SessionStatusFailed)
		return nil, err
	}

	session.Status = models.SessionStatusRunning
	if err := m.sessionRepo.UpdateStatus(ctx, session.ID, models.SessionStatusRunning); err != nil {
		runtime.unsubscribe()
		return nil, fmt.Errorf("failed to mark session running: %w", err)
	}

	m.register(runtime)

	m.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("strategy_id", st.ID),
		zap.String("mode", string(mode)),
		zap.String("symbol", st.Symbol))

	return session, nil
}

// buildRuntime 组装会话运行时：参数、历史窗口、行情订阅
func (m *PaperService) buildRuntime(ctx context.Context, st *models.Strategy, session *models.Session,
	signaler strategy.Signaler, portfolio *sim.Portfolio, peak *float64) (*tradingSession, error) {

	interval := m.conf.Pipeline.Interval
	if interval == "" {
		interval = "15m"
	}

	leverage := cast.ToInt(st.Params["leverage"])
	if leverage < 1 {
		leverage = 1
	}

	runtime := &tradingSession{
		manager:        m,
		logger:         m.logger,
		signaler:       signaler,
		sessionID:      session.ID,
		strategyID:     st.ID,
		symbol:         st.Symbol,
		mode:           session.Mode,
		limits:         session.Limits,
		leverage:       leverage,
		stopLossRate:   cast.ToFloat64(st.Params["stop_loss_rate"]),
		takeProfitRate: cast.ToFloat64(st.Params["take_profit_rate"]),
		fill: sim.FillModel{
			SlippagePercent: m.conf.Sim.SlippagePercent,
			MakerFeeBps:     m.conf.Sim.MakerFeeBps,
			TakerFeeBps:     m.conf.Sim.TakerFeeBps,
			LatencyFraction: m.conf.Sim.LatencyFraction,
		},
		latency:   latencyDuration(m.conf.Sim.LatencyFraction, interval),
		portfolio: portfolio,
		status:    models.SessionStatusRunning,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if session.Mode == models.SessionModeLive {
		runtime.live = m.liveExecutor
	}

	runtime.peakEquity = portfolio.Equity(nil)
	if peak != nil && *peak > runtime.peakEquity {
		runtime.peakEquity = *peak
	}

	// 预热历史窗口，订阅前先把指标所需的K线拉齐
	history, err := m.marketService.History(ctx, st.Symbol, interval, sessionHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to preload history: %w", err)
	}
	runtime.history = history
	if len(history) > 0 {
		runtime.lastPrice = history[len(history)-1].Close
	}

	candles, unsubscribe, err := m.marketService.Subscribe(st.Symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe market stream: %w", err)
	}
	runtime.candles = candles
	runtime.unsubscribe = unsubscribe

	return runtime, nil
}

func (m *PaperService) register(runtime *tradingSession) {
	m.mu.Lock()
	m.sessions[runtime.sessionID] = runtime
	m.mu.Unlock()

	go runtime.run()
}

func (m *PaperService) lookup(sessionID string) (*tradingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runtime, ok := m.sessions[sessionID]
	return runtime, ok
}

// Stop 手动停止会话，两阶段停止完成后才返回
func (m *PaperService) Stop(ctx context.Context, sessionID string) error {
	runtime, ok := m.lookup(sessionID)
	if !ok {
		session, err := m.sessionRepo.FindById(ctx, sessionID)
		if err != nil {
			return xe.ErrSessionNotFound
		}
		if session.Status.Terminal() {
			return xe.ErrSessionTerminal
		}
		// 进程内没有运行时（比如重启后未恢复），直接落终态
		return m.sessionRepo.UpdateStatus(ctx, sessionID, models.SessionStatusStopped)
	}

	runtime.stop()
	return nil
}

// Pause 暂停会话
func (m *PaperService) Pause(ctx context.Context, sessionID string) error {
	runtime, ok := m.lookup(sessionID)
	if !ok {
		return xe.ErrSessionNotFound
	}
	if !runtime.pause() {
		return xe.ErrInvalidTransition
	}
	return m.sessionRepo.UpdateStatus(ctx, sessionID, models.SessionStatusPaused)
}

// Resume 恢复会话
func (m *PaperService) Resume(ctx context.Context, sessionID string) error {
	runtime, ok := m.lookup(sessionID)
	if !ok {
		return xe.ErrSessionNotFound
	}
	if !runtime.resume() {
		return xe.ErrInvalidTransition
	}
	return m.sessionRepo.UpdateStatus(ctx, sessionID, models.SessionStatusRunning)
}

// SessionStatusView 会话状态视图
type SessionStatusView struct {
	Session      models.Session    `json:"session"`
	Equity       float64           `json:"equity"`
	Cash         float64           `json:"cash"`
	Degraded     bool              `json:"degraded"`
	Positions    []models.Position `json:"positions"`
	RecentTrades []models.Trade    `json:"recent_trades"`
	Metrics      *Metrics          `json:"metrics"`
}

// Status 汇总会话状态：运行中的取内存实时值，已结束的按落库数据重算
func (m *PaperService) Status(ctx context.Context, sessionID string) (*SessionStatusView, error) {
	session, err := m.sessionRepo.FindById(ctx, sessionID)
	if err != nil {
		return nil, xe.ErrSessionNotFound
	}

	trades, err := m.tradeRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	points, err := m.equityPointRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view := &SessionStatusView{
		Session:  session,
		Equity:   session.InitialCapital,
		Cash:     session.InitialCapital,
		Degraded: session.Degraded,
		Metrics:  ComputeMetrics(trades, points, session.InitialCapital),
	}

	recent := trades
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	view.RecentTrades = recent

	if runtime, ok := m.lookup(sessionID); ok {
		snap := runtime.snapshot()
		view.Equity = snap.Equity
		view.Cash = runtime.portfolio.Cash()
		view.Degraded = view.Degraded || runtime.degraded.Load()

		for _, pos := range runtime.portfolio.Positions() {
			view.Positions = append(view.Positions, models.Position{
				SessionID:     sessionID,
				Symbol:        pos.Symbol,
				Side:          pos.Side.String(),
				Quantity:      pos.Quantity,
				EntryPrice:    pos.EntryPrice,
				CurrentPrice:  runtime.currentPrice(),
				UnrealizedPnl: pos.UnrealizedPnl(runtime.currentPrice()),
				Leverage:      pos.Leverage,
				MarginType:    pos.MarginType.String(),
				StopLoss:      pos.StopLoss,
				TakeProfit:    pos.TakeProfit,
				OpenedAt:      pos.OpenedAt,
			})
		}
	} else if len(points) > 0 {
		view.Equity = points[len(points)-1].Equity
	}

	return view, nil
}

// EquityCurve 会话资金曲线
func (m *PaperService) EquityCurve(ctx context.Context, sessionID string) ([]models.EquityPoint, error) {
	if _, err := m.sessionRepo.FindById(ctx, sessionID); err != nil {
		return nil, xe.ErrSessionNotFound
	}
	return m.equityPointRepo.FindBySessionID(ctx, sessionID)
}

// Trades 会话成交记录
func (m *PaperService) Trades(ctx context.Context, sessionID string) ([]models.Trade, error) {
	if _, err := m.sessionRepo.FindById(ctx, sessionID); err != nil {
		return nil, xe.ErrSessionNotFound
	}
	return m.tradeRepo.FindBySessionID(ctx, sessionID)
}

// Snapshots 实现 SessionRegistry，供风控巡检消费
func (m *PaperService) Snapshots() []SessionSnapshot {
	m.mu.Lock()
	runtimes := make([]*tradingSession, 0, len(m.sessions))
	for _, runtime := range m.sessions {
		runtimes = append(runtimes, runtime)
	}
	m.mu.Unlock()

	snapshots := make([]SessionSnapshot, 0, len(runtimes))
	for _, runtime := range runtimes {
		snapshots = append(snapshots, runtime.snapshot())
	}
	return snapshots
}

// TripBreaker 实现 SessionRegistry，触发指定会话熔断
func (m *PaperService) TripBreaker(sessionID string, reason string) {
	runtime, ok := m.lookup(sessionID)
	if !ok {
		return
	}
	runtime.tripBreaker(reason)
}

// Recover 重启后恢复所有非终态会话
// 现金按初始资金加上已落库的已实现盈亏重建，持仓从持仓快照表重建，
// 权益峰值取历史资金曲线的最大值，恢复失败的会话保持原状等待人工处理
func (m *PaperService) Recover(ctx context.Context) error {
	sessions, err := m.sessionRepo.FindNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("failed to load non-terminal sessions: %w", err)
	}

	for i := range sessions {
		session := sessions[i]
		if session.Mode == models.SessionModeBacktest {
			continue
		}
		if _, ok := m.lookup(session.ID); ok {
			continue
		}

		if err := m.recoverSession(ctx, &session); err != nil {
			m.logger.Error("failed to recover session",
				zap.String("session_id", session.ID),
				zap.Error(err))
			continue
		}
		m.logger.Info("session recovered",
			zap.String("session_id", session.ID),
			zap.String("strategy_id", session.StrategyID))
	}
	return nil
}

func (m *PaperService) recoverSession(ctx context.Context, session *models.Session) error {
	st, err := m.strategyRepo.FindById(ctx, session.StrategyID)
	if err != nil {
		return fmt.Errorf("strategy not found: %w", err)
	}
	if st.Status.Terminal() {
		return m.sessionRepo.UpdateStatus(ctx, session.ID, models.SessionStatusStopped)
	}

	signaler, err := strategy.New(st.Kind, st.Params)
	if err != nil {
		return err
	}

	trades, err := m.tradeRepo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	cash := session.InitialCapital
	for _, t := range trades {
		cash += t.RealizedPnl
	}

	portfolio := sim.NewPortfolio(cash)

	positions, err := m.positionRepo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		side := exchange.PositionSideLong
		if pos.Side == string(exchange.PositionSideShort) {
			side = exchange.PositionSideShort
		}
		if err := portfolio.Open(pos.Symbol, side, pos.Quantity, pos.EntryPrice,
			pos.Leverage, exchange.MarginType(pos.MarginType), pos.OpenedAt); err != nil {
			return fmt.Errorf("failed to rebuild position: %w", err)
		}
		portfolio.SetStops(pos.Symbol, pos.StopLoss, pos.TakeProfit)
	}

	peak, err := m.equityPointRepo.PeakEquity(ctx, session.ID)
	if err != nil {
		return err
	}

	runtime, err := m.buildRuntime(ctx, &st, session, signaler, portfolio, &peak)
	if err != nil {
		return err
	}

	if session.Status == models.SessionStatusPaused {
		runtime.status = models.SessionStatusPaused
	} else if session.Status != models.SessionStatusRunning {
		runtime.status = models.SessionStatusRunning
		if err := m.sessionRepo.UpdateStatus(ctx, session.ID, models.SessionStatusRunning); err != nil {
			return err
		}
	}

	m.register(runtime)
	return nil
}

// StopAll 停止所有会话，进程退出前调用
func (m *PaperService) StopAll() {
	m.mu.Lock()
	runtimes := make([]*tradingSession, 0, len(m.sessions))
	for _, runtime := range m.sessions {
		runtimes = append(runtimes, runtime)
	}
	m.mu.Unlock()

	for _, runtime := range runtimes {
		runtime.shutdown()
	}
}

// finalizeSession 会话落终态并从注册表摘除
func (m *PaperService) finalizeSession(p *tradingSession, status models.SessionStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	updates := map[string]any{
		"status":   status,
		"ended_at": now,
	}
	if reason != "" {
		updates["fail_reason"] = reason
	}
	if p.degraded.Load() {
		updates["degraded"] = true
	}

	err := m.sessionRepo.GetDB(ctx).Model(&models.Session{}).
		Where("id = ?", p.sessionID).
		Updates(updates).Error
	if err != nil {
		m.logger.Error("failed to finalize session",
			zap.String("session_id", p.sessionID),
			zap.Error(err))
	}

	snap := p.snapshot()

	m.mu.Lock()
	delete(m.sessions, p.sessionID)
	m.mu.Unlock()

	m.logger.Info("session finalized",
		zap.String("session_id", p.sessionID),
		zap.String("status", string(status)),
		zap.String("reason", reason))

	if m.onSessionEnd != nil {
		m.onSessionEnd(snap, status, reason)
	}
}

// persistTrade 成交落库，有界重试，重试耗尽降级
// 全量平仓后持仓快照一并删除
func (m *PaperService) persistTrade(p *tradingSession, trade models.Trade) {
	trade.ID = ulid.Make().String()

	m.withRetry(p, "persist trade", func(ctx context.Context) error {
		return m.tradeRepo.Create(ctx, &trade)
	})
	m.withRetry(p, "delete position snapshot", func(ctx context.Context) error {
		return m.positionRepo.DeleteBySessionAndSymbol(ctx, p.sessionID, trade.Symbol)
	})
}

// persistPosition 持仓快照落库（有则更新无则创建）
func (m *PaperService) persistPosition(p *tradingSession, pos sim.Position) {
	m.withRetry(p, "persist position", func(ctx context.Context) error {
		existing, err := m.positionRepo.FindBySessionAndSymbol(ctx, p.sessionID, pos.Symbol)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := models.Position{
			ID:         existing.ID,
			SessionID:  p.sessionID,
			Symbol:     pos.Symbol,
			Side:       pos.Side.String(),
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
			Leverage:   pos.Leverage,
			MarginType: pos.MarginType.String(),
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
			OpenedAt:   pos.OpenedAt,
		}
		if row.ID == "" {
			row.ID = ulid.Make().String()
			return m.positionRepo.Create(ctx, &row)
		}
		return m.positionRepo.UpdateById(ctx, &row)
	})
}

// persistEquityPoint 资金曲线落库
func (m *PaperService) persistEquityPoint(p *tradingSession, point models.EquityPoint) {
	point.ID = ulid.Make().String()

	m.withRetry(p, "persist equity point", func(ctx context.Context) error {
		return m.equityPointRepo.Create(ctx, &point)
	})
}

// withRetry 持久化写入的有界退避重试
// 重试耗尽不终止会话：内存继续运行，标记降级等待人工对账，绝不静默丢失
func (m *PaperService) withRetry(p *tradingSession, op string, fn func(ctx context.Context) error) {
	retries := m.conf.Pipeline.PersistMaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := time.Duration(m.conf.Pipeline.PersistRetryMillis) * time.Millisecond
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lastErr = fn(ctx)
		cancel()

		if lastErr == nil {
			return
		}
	}

	m.logger.Error("persistence failed after retries, session degraded",
		zap.String("session_id", p.sessionID),
		zap.String("op", op),
		zap.Error(lastErr))

	p.markDegraded()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sessionRepo.MarkDegraded(ctx, p.sessionID); err != nil {
		m.logger.Error("failed to mark session degraded", zap.String("session_id", p.sessionID), zap.Error(err))
	}
}

// latencyDuration 把按K线周期比例表示的延迟换算成真实时长
func latencyDuration(fraction float64, interval string) time.Duration {
	if fraction <= 0 {
		return 0
	}
	return time.Duration(fraction * float64(intervalDuration(interval)))
}

// intervalDuration 解析 1m/15m/1h/4h/1d 形式的K线周期
func intervalDuration(interval string) time.Duration {
	if strings.HasSuffix(interval, "d") {
		days := cast.ToInt(strings.TrimSuffix(interval, "d"))
		if days <= 0 {
			days = 1
		}
		return time.Duration(days) * 24 * time.Hour
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

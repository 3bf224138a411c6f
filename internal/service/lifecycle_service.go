package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/repo"
	"github.com/dushixiang/gauntlet/internal/xe"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notifier 运营通知出口，失败只记日志，绝不阻塞主流程
type Notifier interface {
	Notify(msg string)
}

// LifecycleService 策略生命周期控制器
// 驱动 generated -> backtesting -> paper_trading -> live 的晋升流水线，
// 每次阶段转换都有门槛评估报告留档
type LifecycleService struct {
	logger *zap.Logger

	*orz.Service

	conf *config.Config

	strategyRepo    *repo.StrategyRepo
	sessionRepo     *repo.SessionRepo
	tradeRepo       *repo.TradeRepo
	equityPointRepo *repo.EquityPointRepo
	gateReportRepo  *repo.GateReportRepo

	backtestService *BacktestService
	paperService    *PaperService
	marketService   *MarketService
	riskService     *RiskService

	notifier Notifier
	cron     *cron.Cron
}

// NewLifecycleService 创建生命周期控制器
func NewLifecycleService(db *gorm.DB, conf *config.Config,
	backtestService *BacktestService, paperService *PaperService,
	marketService *MarketService, riskService *RiskService,
	logger *zap.Logger) *LifecycleService {

	s := &LifecycleService{
		logger:          logger,
		Service:         orz.NewService(db),
		conf:            conf,
		strategyRepo:    repo.NewStrategyRepo(db),
		sessionRepo:     repo.NewSessionRepo(db),
		tradeRepo:       repo.NewTradeRepo(db),
		equityPointRepo: repo.NewEquityPointRepo(db),
		gateReportRepo:  repo.NewGateReportRepo(db),
		backtestService: backtestService,
		paperService:    paperService,
		marketService:   marketService,
		riskService:     riskService,
	}

	// 会话因风控熔断或实盘执行失败而终结时，联动退役策略
	paperService.OnSessionEnd(s.handleSessionEnd)

	return s
}

// SetNotifier 挂载通知出口
func (s *LifecycleService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *LifecycleService) notify(format string, args ...any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(fmt.Sprintf(format, args...))
}

// SubmitRequest 提交候选策略
type SubmitRequest struct {
	Name   string         `json:"name" validate:"required,max=100"`
	Kind   string         `json:"kind" validate:"required"`
	Symbol string         `json:"symbol" validate:"required,max=20"`
	Params map[string]any `json:"params"`
}

// Submit 接收候选策略并启动评估流水线
// 参数进入回测后不可变更，调参视为新策略
func (s *LifecycleService) Submit(ctx context.Context, req SubmitRequest) (*models.Strategy, error) {
	kind, err := models.ParseStrategyKind(req.Kind)
	if err != nil {
		return nil, xe.ErrInvalidParams
	}
	if !s.symbolAllowed(req.Symbol) {
		return nil, xe.ErrInvalidParams
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	st := &models.Strategy{
		ID:     ulid.Make().String(),
		Name:   req.Name,
		Kind:   kind,
		Symbol: req.Symbol,
		Params: datatypes.JSONMap(params),
		Status: models.StrategyStatusGenerated,
	}
	if err := s.strategyRepo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}

	s.logger.Info("strategy submitted",
		zap.String("strategy_id", st.ID),
		zap.String("name", st.Name),
		zap.String("kind", string(st.Kind)),
		zap.String("symbol", st.Symbol))

	go s.runPipeline(st.ID)

	return st, nil
}

func (s *LifecycleService) symbolAllowed(symbol string) bool {
	if len(s.conf.Pipeline.Symbols) == 0 {
		return true
	}
	for _, allowed := range s.conf.Pipeline.Symbols {
		if allowed == symbol {
			return true
		}
	}
	return false
}

// runPipeline 执行回测阶段并按门槛结果推进或退役
func (s *LifecycleService) runPipeline(strategyID string) {
	ctx := context.Background()

	st, err := s.strategyRepo.FindById(ctx, strategyID)
	if err != nil {
		s.logger.Error("pipeline: strategy not found", zap.String("strategy_id", strategyID), zap.Error(err))
		return
	}
	if st.Status != models.StrategyStatusGenerated && st.Status != models.StrategyStatusBacktesting {
		return
	}

	if err := s.strategyRepo.UpdateStatus(ctx, st.ID, models.StrategyStatusBacktesting); err != nil {
		s.logger.Error("pipeline: failed to mark backtesting", zap.String("strategy_id", st.ID), zap.Error(err))
		return
	}

	limit := s.conf.Pipeline.BacktestCandles
	if limit <= 0 {
		limit = 1000
	}
	candles, err := s.marketService.History(ctx, st.Symbol, s.interval(), limit)
	if err != nil {
		s.logger.Error("pipeline: failed to load history",
			zap.String("strategy_id", st.ID), zap.Error(err))
		s.retire(ctx, &st, fmt.Sprintf("backtest aborted: %v", err))
		return
	}

	limits := s.riskService.DefaultLimits()
	result, err := s.backtestService.Run(ctx, &st, candles, s.conf.Pipeline.InitialCapital, limits)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			s.retire(ctx, &st, "backtest validation failed: "+ve.Reason)
			return
		}
		s.logger.Error("pipeline: backtest failed", zap.String("strategy_id", st.ID), zap.Error(err))
		s.retire(ctx, &st, fmt.Sprintf("backtest failed: %v", err))
		return
	}

	session, err := s.persistBacktest(ctx, &st, result, limits)
	if err != nil {
		s.logger.Error("pipeline: failed to persist backtest", zap.String("strategy_id", st.ID), zap.Error(err))
		s.retire(ctx, &st, fmt.Sprintf("backtest persistence failed: %v", err))
		return
	}

	passed, err := s.evaluateGate(ctx, &st, session.ID, models.GateStageBacktest,
		result.Metrics, s.conf.Pipeline.BacktestGate)
	if err != nil {
		s.logger.Error("pipeline: gate evaluation failed", zap.String("strategy_id", st.ID), zap.Error(err))
		return
	}
	if !passed {
		s.retire(ctx, &st, "backtest gate failed")
		s.notify("策略 %s 回测未过门槛，已退役", st.Name)
		return
	}

	if _, err := s.paperService.Start(ctx, &st, models.SessionModePaper, limits); err != nil {
		s.logger.Error("pipeline: failed to start paper session", zap.String("strategy_id", st.ID), zap.Error(err))
		s.retire(ctx, &st, fmt.Sprintf("paper session start failed: %v", err))
		return
	}

	if err := s.strategyRepo.UpdateStatus(ctx, st.ID, models.StrategyStatusPaperTrading); err != nil {
		s.logger.Error("pipeline: failed to mark paper_trading", zap.String("strategy_id", st.ID), zap.Error(err))
		return
	}

	s.logger.Info("strategy promoted to paper trading", zap.String("strategy_id", st.ID))
	s.notify("策略 %s 通过回测门槛，已进入模拟盘评估", st.Name)
}

// persistBacktest 回测结果落库：会话、成交、资金曲线在一个事务里写入
// 引擎输出不带ID，这里统一分配
func (s *LifecycleService) persistBacktest(ctx context.Context, st *models.Strategy,
	result *BacktestResult, limits models.RiskLimits) (*models.Session, error) {

	now := time.Now()
	endedAt := now
	session := &models.Session{
		ID:             ulid.Make().String(),
		StrategyID:     st.ID,
		Mode:           models.SessionModeBacktest,
		Symbol:         st.Symbol,
		InitialCapital: result.InitialCapital,
		Status:         models.SessionStatusStopped,
		Limits:         limits,
		StartedAt:      now,
		EndedAt:        &endedAt,
	}

	err := s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.sessionRepo.Create(ctx, session); err != nil {
			return err
		}

		for i := range result.Trades {
			trade := result.Trades[i]
			trade.ID = ulid.Make().String()
			trade.SessionID = session.ID
			if err := s.tradeRepo.Create(ctx, &trade); err != nil {
				return err
			}
		}

		for i := range result.EquityPoints {
			point := result.EquityPoints[i]
			point.ID = ulid.Make().String()
			point.SessionID = session.ID
			if err := s.equityPointRepo.Create(ctx, &point); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// evaluateGate 门槛评估并落报告
// 结果永远是结构化的 {criterion, threshold, actual}，不是裸布尔值
func (s *LifecycleService) evaluateGate(ctx context.Context, st *models.Strategy, sessionID string,
	stage models.GateStage, metrics *Metrics, gate config.GateConf) (bool, error) {

	checks := []models.GateCheck{
		{
			Criterion: "trade_count",
			Threshold: float64(gate.MinTrades),
			Actual:    float64(metrics.TradeCount),
			Passed:    metrics.TradeCount >= gate.MinTrades,
		},
		{
			Criterion: "win_rate",
			Threshold: gate.MinWinRate,
			Actual:    metrics.WinRate,
			Passed:    metrics.WinRate >= gate.MinWinRate,
		},
		{
			Criterion: "sharpe_ratio",
			Threshold: gate.MinSharpe,
			Actual:    metrics.SharpeRatio,
			Passed:    metrics.SharpeRatio >= gate.MinSharpe,
		},
		{
			Criterion: "max_drawdown",
			Threshold: gate.MaxDrawdownPercent,
			Actual:    metrics.MaxDrawdownPercent,
			Passed:    metrics.MaxDrawdownPercent <= gate.MaxDrawdownPercent,
		},
	}

	passed := true
	for _, check := range checks {
		if !check.Passed {
			passed = false
			s.logger.Info("gate check failed",
				zap.String("strategy_id", st.ID),
				zap.String("stage", string(stage)),
				zap.String("criterion", check.Criterion),
				zap.Float64("threshold", check.Threshold),
				zap.Float64("actual", check.Actual))
		}
	}

	encoded, err := models.EncodeChecks(checks)
	if err != nil {
		return false, fmt.Errorf("failed to encode gate checks: %w", err)
	}

	report := &models.GateReport{
		ID:          ulid.Make().String(),
		StrategyID:  st.ID,
		SessionID:   sessionID,
		Stage:       stage,
		Passed:      passed,
		Checks:      encoded,
		EvaluatedAt: time.Now(),
	}
	if err := s.gateReportRepo.Create(ctx, report); err != nil {
		return false, fmt.Errorf("failed to save gate report: %w", err)
	}

	return passed, nil
}

// StartScheduler 启动模拟盘晋升评估的定时任务
func (s *LifecycleService) StartScheduler() error {
	spec := s.conf.Pipeline.EvaluationCron
	if spec == "" {
		spec = "@every 1h"
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		s.EvaluatePaperSessions(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to add evaluation job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("promotion scheduler started", zap.String("spec", spec))
	return nil
}

// StopScheduler 停止定时任务
func (s *LifecycleService) StopScheduler() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// EvaluatePaperSessions 对到达最短评估窗口的模拟盘会话做晋升评估
// 窗口 = 最短运行时长 且 最少成交笔数，二者都满足才评估
func (s *LifecycleService) EvaluatePaperSessions(ctx context.Context) {
	strategies, err := s.strategyRepo.FindByStatus(ctx, models.StrategyStatusPaperTrading)
	if err != nil {
		s.logger.Error("evaluation: failed to load strategies", zap.Error(err))
		return
	}

	for i := range strategies {
		st := strategies[i]
		if err := s.evaluatePaperStrategy(ctx, &st); err != nil {
			s.logger.Error("evaluation failed",
				zap.String("strategy_id", st.ID),
				zap.Error(err))
		}
	}
}

func (s *LifecycleService) evaluatePaperStrategy(ctx context.Context, st *models.Strategy) error {
	session, err := s.sessionRepo.FindActiveByStrategy(ctx, st.ID, models.SessionModePaper)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	elapsed := time.Since(session.StartedAt)
	minWindow := time.Duration(s.conf.Pipeline.PaperWindowHours * float64(time.Hour))
	if elapsed < minWindow {
		return nil
	}

	count, err := s.tradeRepo.CountBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	if count < int64(s.conf.Pipeline.PaperWindowTrades) {
		return nil
	}

	trades, err := s.tradeRepo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	points, err := s.equityPointRepo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	metrics := ComputeMetrics(trades, points, session.InitialCapital)

	passed, err := s.evaluateGate(ctx, st, session.ID, models.GateStagePaper, metrics, s.conf.Pipeline.PaperGate)
	if err != nil {
		return err
	}

	if !passed {
		if err := s.paperService.Stop(ctx, session.ID); err != nil {
			s.logger.Warn("failed to stop paper session", zap.String("session_id", session.ID), zap.Error(err))
		}
		s.retire(ctx, st, "paper gate failed")
		s.notify("策略 %s 模拟盘未过门槛，已退役", st.Name)
		return nil
	}

	return s.promoteToLive(ctx, st, session.ID)
}

// promoteToLive 晋升实盘
// live_enabled 关闭时只晋升状态不建实盘会话，交接动作留给人工
func (s *LifecycleService) promoteToLive(ctx context.Context, st *models.Strategy, paperSessionID string) error {
	if err := s.paperService.Stop(ctx, paperSessionID); err != nil {
		return fmt.Errorf("failed to stop paper session: %w", err)
	}

	if err := s.strategyRepo.UpdateStatus(ctx, st.ID, models.StrategyStatusLive); err != nil {
		return err
	}

	if s.conf.Pipeline.LiveEnabled {
		if _, err := s.paperService.Start(ctx, st, models.SessionModeLive, s.riskService.DefaultLimits()); err != nil {
			s.logger.Error("failed to start live session, strategy halted",
				zap.String("strategy_id", st.ID), zap.Error(err))
			s.retire(ctx, st, fmt.Sprintf("live session start failed: %v", err))
			return err
		}
		s.logger.Info("strategy promoted to live", zap.String("strategy_id", st.ID))
		s.notify("策略 %s 已晋升实盘", st.Name)
	} else {
		s.logger.Info("strategy passed paper gate, live trading disabled by config",
			zap.String("strategy_id", st.ID))
		s.notify("策略 %s 通过模拟盘门槛，实盘开关未启用，等待人工交接", st.Name)
	}
	return nil
}

// handleSessionEnd 会话终结联动
// 风控熔断或实盘执行失败导致的 failed 会话，对应策略直接退役
func (s *LifecycleService) handleSessionEnd(sess SessionSnapshot, status models.SessionStatus, reason string) {
	if status != models.SessionStatusFailed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := s.strategyRepo.FindById(ctx, sess.StrategyID)
	if err != nil {
		s.logger.Error("failed to load strategy for failed session",
			zap.String("strategy_id", sess.StrategyID), zap.Error(err))
		return
	}
	if st.Status.Terminal() {
		return
	}

	s.retire(ctx, &st, "session failed: "+reason)
	s.notify("策略 %s 触发风控熔断，已退役：%s", st.Name, reason)
}

// retire 退役策略并停掉仍在运行的会话
func (s *LifecycleService) retire(ctx context.Context, st *models.Strategy, reason string) {
	if err := s.strategyRepo.Retire(ctx, st.ID, reason); err != nil {
		s.logger.Error("failed to retire strategy", zap.String("strategy_id", st.ID), zap.Error(err))
		return
	}

	sessions, err := s.sessionRepo.FindByStrategyID(ctx, st.ID)
	if err != nil {
		s.logger.Warn("failed to load sessions of retired strategy", zap.String("strategy_id", st.ID), zap.Error(err))
		return
	}
	for _, session := range sessions {
		if session.Status.Terminal() || session.Mode == models.SessionModeBacktest {
			continue
		}
		if err := s.paperService.Stop(ctx, session.ID); err != nil {
			s.logger.Warn("failed to stop session of retired strategy",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	s.logger.Info("strategy retired",
		zap.String("strategy_id", st.ID),
		zap.String("reason", reason))
}

// Approve 人工放行：跳过门槛评估直接晋升下一阶段
func (s *LifecycleService) Approve(ctx context.Context, strategyID string) error {
	st, err := s.strategyRepo.FindById(ctx, strategyID)
	if err != nil {
		return xe.ErrStrategyNotFound
	}

	switch st.Status {
	case models.StrategyStatusGenerated:
		go s.runPipeline(st.ID)
		return nil
	case models.StrategyStatusPaperTrading:
		session, err := s.sessionRepo.FindActiveByStrategy(ctx, st.ID, models.SessionModePaper)
		if err != nil {
			return xe.ErrSessionNotFound
		}
		return s.promoteToLive(ctx, &st, session.ID)
	case models.StrategyStatusRetired:
		return xe.ErrStrategyRetired
	default:
		return xe.ErrInvalidTransition
	}
}

// Reject 人工否决，策略退役
func (s *LifecycleService) Reject(ctx context.Context, strategyID string, reason string) error {
	st, err := s.strategyRepo.FindById(ctx, strategyID)
	if err != nil {
		return xe.ErrStrategyNotFound
	}
	if st.Status.Terminal() {
		return xe.ErrStrategyRetired
	}

	if reason == "" {
		reason = "manually rejected"
	}
	s.retire(ctx, &st, reason)
	return nil
}

// StrategyDetail 策略详情：当前阶段、会话与门槛报告
type StrategyDetail struct {
	Strategy models.Strategy     `json:"strategy"`
	Sessions []models.Session    `json:"sessions"`
	Gates    []models.GateReport `json:"gates"`
}

// Detail 查询策略详情
func (s *LifecycleService) Detail(ctx context.Context, strategyID string) (*StrategyDetail, error) {
	st, err := s.strategyRepo.FindById(ctx, strategyID)
	if err != nil {
		return nil, xe.ErrStrategyNotFound
	}

	sessions, err := s.sessionRepo.FindByStrategyID(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	gates, err := s.gateReportRepo.FindByStrategyID(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	return &StrategyDetail{
		Strategy: st,
		Sessions: sessions,
		Gates:    gates,
	}, nil
}

// List 列出全部策略
func (s *LifecycleService) List(ctx context.Context) ([]models.Strategy, error) {
	return s.strategyRepo.FindAll(ctx)
}

// StatusSummary 汇总流水线当前状态，供 /status 命令查询
func (s *LifecycleService) StatusSummary(ctx context.Context) string {
	strategies, err := s.strategyRepo.FindAll(ctx)
	if err != nil {
		return fmt.Sprintf("查询失败: %v", err)
	}

	counts := make(map[models.StrategyStatus]int)
	for i := range strategies {
		counts[strategies[i].Status]++
	}

	var sb strings.Builder
	sb.WriteString("*策略流水线状态*\n")
	for _, status := range []models.StrategyStatus{
		models.StrategyStatusGenerated, models.StrategyStatusBacktesting,
		models.StrategyStatusPaperTrading, models.StrategyStatusLive,
		models.StrategyStatusRetired,
	} {
		if n := counts[status]; n > 0 {
			sb.WriteString(fmt.Sprintf("%s: %d\n", status, n))
		}
	}

	snapshots := s.paperService.Snapshots()
	if len(snapshots) == 0 {
		sb.WriteString("当前无运行中的会话")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("\n*运行中会话 (%d)*\n", len(snapshots)))
	for _, snap := range snapshots {
		sb.WriteString(fmt.Sprintf("`%s` %s %s 权益 %.2f\n",
			snap.SessionID, snap.Mode, snap.Status, snap.Equity))
	}
	return sb.String()
}

// Recover 重启恢复
// 先恢复会话，再把中断在回测阶段的策略重新跑一遍流水线；
// 恢复过程不允许静默丢弃任何运行中的会话
func (s *LifecycleService) Recover(ctx context.Context) error {
	if err := s.paperService.Recover(ctx); err != nil {
		return err
	}

	strategies, err := s.strategyRepo.FindNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("failed to load non-terminal strategies: %w", err)
	}

	for i := range strategies {
		st := strategies[i]
		switch st.Status {
		case models.StrategyStatusGenerated, models.StrategyStatusBacktesting:
			// 回测是确定性的，中断后直接重跑
			s.logger.Info("resuming interrupted pipeline", zap.String("strategy_id", st.ID))
			go s.runPipeline(st.ID)

		case models.StrategyStatusPaperTrading:
			// 崩在门槛通过与建会话之间的策略，补一个模拟盘会话；
			// 补建前核对回测阶段确实通过过门槛，对不上的交人工处理
			if _, err := s.sessionRepo.FindActiveByStrategy(ctx, st.ID, models.SessionModePaper); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					report, err := s.gateReportRepo.FindLatestByStage(ctx, st.ID, models.GateStageBacktest)
					if err != nil || !report.Passed {
						s.logger.Warn("paper-trading strategy has no passed backtest gate, skip restart",
							zap.String("strategy_id", st.ID))
						continue
					}
					if _, err := s.paperService.Start(ctx, &st, models.SessionModePaper, s.riskService.DefaultLimits()); err != nil {
						s.logger.Error("failed to restart paper session",
							zap.String("strategy_id", st.ID), zap.Error(err))
					}
				}
			}
		}
	}
	return nil
}

func (s *LifecycleService) interval() string {
	if s.conf.Pipeline.Interval == "" {
		return "15m"
	}
	return s.conf.Pipeline.Interval
}

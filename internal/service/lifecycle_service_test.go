package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/xe"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		models.Strategy{}, models.Session{}, models.Trade{},
		models.Position{}, models.EquityPoint{}, models.GateReport{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestLifecycleService(t *testing.T, conf *config.Config) *LifecycleService {
	t.Helper()

	db := newTestDB(t)
	logger := zap.NewNop()
	client := exchange.NewBinanceClient("", "", "", false)

	indicatorService := NewIndicatorService()
	marketService := NewMarketService(client, logger)
	riskService := NewRiskService(conf, logger)
	backtestService := NewBacktestService(conf, indicatorService, riskService, logger)
	paperService := NewPaperService(db, conf, marketService, indicatorService, riskService, client, logger)

	return NewLifecycleService(db, conf, backtestService, paperService, marketService, riskService, logger)
}

func pipelineTestConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConf{
			Interval:        "15m",
			InitialCapital:  10000,
			BacktestCandles: 1000,
			BacktestGate: config.GateConf{
				MinTrades:          10,
				MinWinRate:         0.5,
				MinSharpe:          0.1,
				MaxDrawdownPercent: 20,
			},
			PaperGate: config.GateConf{
				MinTrades:          5,
				MinWinRate:         0.5,
				MinSharpe:          0.1,
				MaxDrawdownPercent: 15,
			},
		},
		Risk: config.RiskConf{
			MaxDrawdownPercent:    10,
			MaxPositionPercent:    20,
			MaxPositions:          3,
			DailyLossLimitPercent: 5,
			MaxLeverage:           10,
			BaseFraction:          10,
		},
	}
}

func createTestStrategy(t *testing.T, s *LifecycleService, status models.StrategyStatus) *models.Strategy {
	t.Helper()

	st := &models.Strategy{
		ID:     ulid.Make().String(),
		Name:   "momentum-test",
		Kind:   models.StrategyKindMomentum,
		Symbol: "BTCUSDT",
		Status: status,
	}
	if err := s.strategyRepo.Create(context.Background(), st); err != nil {
		t.Fatalf("failed to create strategy: %v", err)
	}
	return st
}

func TestGateFailureProducesStructuredReport(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())
	ctx := context.Background()

	st := createTestStrategy(t, s, models.StrategyStatusBacktesting)

	// 胜率 45% 低于门槛 50%，其余达标
	metrics := &Metrics{
		TradeCount:         20,
		WinRate:            0.45,
		SharpeRatio:        0.8,
		MaxDrawdownPercent: 5,
	}
	passed, err := s.evaluateGate(ctx, st, "session-1", models.GateStageBacktest,
		metrics, s.conf.Pipeline.BacktestGate)
	if err != nil {
		t.Fatalf("gate evaluation failed: %v", err)
	}
	if passed {
		t.Fatal("gate must fail on low win rate")
	}

	reports, err := s.gateReportRepo.FindByStrategyID(ctx, st.ID)
	if err != nil {
		t.Fatalf("failed to load reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].Passed {
		t.Fatal("report must record failure")
	}

	checks, err := reports[0].DecodeChecks()
	if err != nil {
		t.Fatalf("failed to decode checks: %v", err)
	}
	if len(checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(checks))
	}

	var winRate *models.GateCheck
	for i := range checks {
		if checks[i].Criterion == "win_rate" {
			winRate = &checks[i]
		} else if !checks[i].Passed {
			t.Fatalf("only win_rate should fail, %s failed too", checks[i].Criterion)
		}
	}
	if winRate == nil {
		t.Fatal("win_rate check missing")
	}
	if winRate.Passed {
		t.Fatal("win_rate check must fail")
	}
	if winRate.Threshold != 0.5 || winRate.Actual != 0.45 {
		t.Fatalf("check must carry threshold and actual, got %+v", winRate)
	}
}

func TestGatePassesWhenAllCriteriaMet(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())
	ctx := context.Background()

	st := createTestStrategy(t, s, models.StrategyStatusBacktesting)

	metrics := &Metrics{
		TradeCount:         30,
		WinRate:            0.6,
		SharpeRatio:        1.2,
		MaxDrawdownPercent: 8,
	}
	passed, err := s.evaluateGate(ctx, st, "session-1", models.GateStageBacktest,
		metrics, s.conf.Pipeline.BacktestGate)
	if err != nil {
		t.Fatalf("gate evaluation failed: %v", err)
	}
	if !passed {
		t.Fatal("gate must pass when all criteria are met")
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())

	_, err := s.Submit(context.Background(), SubmitRequest{
		Name:   "bogus",
		Kind:   "martingale",
		Symbol: "BTCUSDT",
	})
	if !errors.Is(err, xe.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestSubmitRejectsSymbolOutsideWhitelist(t *testing.T) {
	conf := pipelineTestConfig()
	conf.Pipeline.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	s := newTestLifecycleService(t, conf)

	_, err := s.Submit(context.Background(), SubmitRequest{
		Name:   "momentum",
		Kind:   "momentum",
		Symbol: "DOGEUSDT",
	})
	if !errors.Is(err, xe.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestRejectRetiresStrategy(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())
	ctx := context.Background()

	st := createTestStrategy(t, s, models.StrategyStatusGenerated)

	if err := s.Reject(ctx, st.ID, ""); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	got, err := s.strategyRepo.FindById(ctx, st.ID)
	if err != nil {
		t.Fatalf("failed to reload strategy: %v", err)
	}
	if got.Status != models.StrategyStatusRetired {
		t.Fatalf("expected retired, got %s", got.Status)
	}
	if got.RetireReason != "manually rejected" {
		t.Fatalf("expected default reject reason, got %q", got.RetireReason)
	}
}

func TestRejectRetiredStrategy(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())
	ctx := context.Background()

	st := createTestStrategy(t, s, models.StrategyStatusRetired)

	if err := s.Reject(ctx, st.ID, "again"); !errors.Is(err, xe.ErrStrategyRetired) {
		t.Fatalf("expected retired error, got %v", err)
	}
}

func TestRecoverRequiresBacktestGateForPaperRestart(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())
	ctx := context.Background()

	// 状态是模拟盘但没有任何通过的回测门槛报告，重启时不补建会话
	st := createTestStrategy(t, s, models.StrategyStatusPaperTrading)

	if err := s.Recover(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	if _, err := s.sessionRepo.FindActiveByStrategy(ctx, st.ID, models.SessionModePaper); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("no paper session must be created without a passed backtest gate, got %v", err)
	}
}

func TestApproveRejectsInvalidStates(t *testing.T) {
	s := newTestLifecycleService(t, pipelineTestConfig())
	ctx := context.Background()

	retired := createTestStrategy(t, s, models.StrategyStatusRetired)
	if err := s.Approve(ctx, retired.ID); !errors.Is(err, xe.ErrStrategyRetired) {
		t.Fatalf("expected retired error, got %v", err)
	}

	live := createTestStrategy(t, s, models.StrategyStatusLive)
	if err := s.Approve(ctx, live.ID); !errors.Is(err, xe.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if err := s.Approve(ctx, "missing"); !errors.Is(err, xe.ErrStrategyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/sim"
	"go.uber.org/zap"
)

func newTestRiskService() *RiskService {
	conf := &config.Config{
		Risk: config.RiskConf{
			MaxDrawdownPercent:    10,
			MaxPositionPercent:    20,
			MaxPositions:          3,
			DailyLossLimitPercent: 5,
			MaxLeverage:           10,
			BaseFraction:          10,
		},
	}
	return NewRiskService(conf, zap.NewNop())
}

func TestCheckAllowsNormalOrder(t *testing.T) {
	s := newTestRiskService()
	w := sim.NewPortfolio(10000)

	order := OrderRequest{Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Quantity: 0.01, Price: 50000, Leverage: 5}
	allowed, reason := s.Check(order, w, s.DefaultLimits())
	if !allowed {
		t.Fatalf("expected allow, got rejection: %s", reason)
	}
}

func TestCheckRejectsOversizedPositionFirst(t *testing.T) {
	s := newTestRiskService()
	w := sim.NewPortfolio(10000)

	// 名义 50000 远超权益 20%，同时杠杆也超限；规模规则必须先触发
	order := OrderRequest{Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Quantity: 1, Price: 50000, Leverage: 50}
	allowed, reason := s.Check(order, w, s.DefaultLimits())
	if allowed {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(reason, "position size") {
		t.Fatalf("size rule must fire first, got: %s", reason)
	}
}

func TestCheckRejectsTooManyPositions(t *testing.T) {
	s := newTestRiskService()
	w := sim.NewPortfolio(1000000)

	now := time.Now()
	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 0.01, 50000, 1, exchange.MarginTypeCrossed, now)
	_ = w.Open("ETHUSDT", exchange.PositionSideLong, 0.1, 3000, 1, exchange.MarginTypeCrossed, now)
	_ = w.Open("SOLUSDT", exchange.PositionSideLong, 1, 150, 1, exchange.MarginTypeCrossed, now)

	order := OrderRequest{Symbol: "BNBUSDT", Side: exchange.PositionSideLong, Quantity: 1, Price: 500, Leverage: 1}
	allowed, reason := s.Check(order, w, s.DefaultLimits())
	if allowed {
		t.Fatal("expected rejection at position count limit")
	}
	if !strings.Contains(reason, "open positions") {
		t.Fatalf("unexpected reason: %s", reason)
	}
}

func TestCheckAllowsAddToExistingSymbol(t *testing.T) {
	s := newTestRiskService()
	w := sim.NewPortfolio(1000000)

	now := time.Now()
	_ = w.Open("BTCUSDT", exchange.PositionSideLong, 0.01, 50000, 1, exchange.MarginTypeCrossed, now)
	_ = w.Open("ETHUSDT", exchange.PositionSideLong, 0.1, 3000, 1, exchange.MarginTypeCrossed, now)
	_ = w.Open("SOLUSDT", exchange.PositionSideLong, 1, 150, 1, exchange.MarginTypeCrossed, now)

	// 已有持仓的交易对加仓不计入数量限制
	order := OrderRequest{Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Quantity: 0.01, Price: 50000, Leverage: 1}
	allowed, reason := s.Check(order, w, s.DefaultLimits())
	if !allowed {
		t.Fatalf("add to existing position should pass, got: %s", reason)
	}
}

func TestCheckRejectsExcessiveLeverage(t *testing.T) {
	s := newTestRiskService()
	w := sim.NewPortfolio(10000)

	order := OrderRequest{Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Quantity: 0.001, Price: 50000, Leverage: 20}
	allowed, reason := s.Check(order, w, s.DefaultLimits())
	if allowed {
		t.Fatal("expected leverage rejection")
	}
	if !strings.Contains(reason, "leverage") {
		t.Fatalf("unexpected reason: %s", reason)
	}
}

func TestSizeScalesWithConfidence(t *testing.T) {
	s := newTestRiskService()
	limits := s.DefaultLimits()

	full := s.Size(1.0, 0, 10000, limits)
	half := s.Size(0.5, 0, 10000, limits)

	if full != 1000 {
		t.Fatalf("expected base notional 1000, got %v", full)
	}
	if half != 500 {
		t.Fatalf("expected half notional 500, got %v", half)
	}
}

func TestSizeShrinksWithVolatility(t *testing.T) {
	s := newTestRiskService()
	limits := s.DefaultLimits()

	calm := s.Size(1.0, 0.01, 10000, limits)
	wild := s.Size(1.0, 0.10, 10000, limits)
	if wild >= calm {
		t.Fatalf("higher volatility must shrink size: calm %v, wild %v", calm, wild)
	}
}

func TestSizeNeverExceedsPositionLimit(t *testing.T) {
	s := newTestRiskService()
	w := sim.NewPortfolio(10000)
	limits := s.DefaultLimits()

	// 产出的订单不会被 Check 的规模规则拒绝
	for _, confidence := range []float64{0.1, 0.5, 1.0} {
		notional := s.Size(confidence, 0, 10000, limits)
		if notional <= 0 {
			continue
		}
		order := OrderRequest{Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Quantity: notional / 50000, Price: 50000, Leverage: 1}
		if allowed, reason := s.Check(order, w, limits); !allowed {
			t.Fatalf("sized order rejected (confidence %v): %s", confidence, reason)
		}
	}
}

func TestSizeZeroInputs(t *testing.T) {
	s := newTestRiskService()
	limits := s.DefaultLimits()

	if s.Size(0, 0, 10000, limits) != 0 {
		t.Fatal("zero confidence must size to zero")
	}
	if s.Size(1, 0, 0, limits) != 0 {
		t.Fatal("zero equity must size to zero")
	}
}

func TestAssessDrawdownBreach(t *testing.T) {
	s := newTestRiskService()

	snap := SessionSnapshot{
		Equity:     8900,
		PeakEquity: 10000,
		Limits:     s.DefaultLimits(),
	}
	breached, reason := s.Assess(snap)
	if !breached {
		t.Fatal("11% drawdown must breach 10% limit")
	}
	if !strings.Contains(reason, "max_drawdown") {
		t.Fatalf("unexpected reason: %s", reason)
	}
}

func TestAssessDailyLossBreach(t *testing.T) {
	s := newTestRiskService()

	snap := SessionSnapshot{
		Equity:         9400,
		PeakEquity:     10000,
		DayStartEquity: 10000,
		Limits:         s.DefaultLimits(),
	}
	breached, reason := s.Assess(snap)
	if !breached {
		t.Fatal("6% daily loss must breach 5% limit")
	}
	if !strings.Contains(reason, "daily_loss") {
		t.Fatalf("unexpected reason: %s", reason)
	}
}

func TestAssessHealthySession(t *testing.T) {
	s := newTestRiskService()

	snap := SessionSnapshot{
		Equity:         9800,
		PeakEquity:     10000,
		DayStartEquity: 9900,
		Limits:         s.DefaultLimits(),
	}
	if breached, reason := s.Assess(snap); breached {
		t.Fatalf("healthy session must not breach: %s", reason)
	}
}

// fakeRegistry 巡检测试用的注册表
type fakeRegistry struct {
	mu        sync.Mutex
	snapshots []SessionSnapshot
	tripped   map[string]string
}

func (r *fakeRegistry) Snapshots() []SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionSnapshot(nil), r.snapshots...)
}

func (r *fakeRegistry) TripBreaker(sessionID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tripped == nil {
		r.tripped = make(map[string]string)
	}
	r.tripped[sessionID] = reason
}

func TestMonitorTripsOnlyBreachedSessions(t *testing.T) {
	s := newTestRiskService()
	limits := s.DefaultLimits()

	registry := &fakeRegistry{
		snapshots: []SessionSnapshot{
			{SessionID: "healthy", Status: models.SessionStatusRunning, Equity: 9900, PeakEquity: 10000, Limits: limits},
			{SessionID: "breached", Status: models.SessionStatusRunning, Equity: 8000, PeakEquity: 10000, Limits: limits},
			{SessionID: "paused", Status: models.SessionStatusPaused, Equity: 8000, PeakEquity: 10000, Limits: limits},
		},
	}

	s.MonitorOnce(registry)

	if _, ok := registry.tripped["breached"]; !ok {
		t.Fatal("breached session must be tripped")
	}
	if _, ok := registry.tripped["healthy"]; ok {
		t.Fatal("healthy session must not be tripped")
	}
	if _, ok := registry.tripped["paused"]; ok {
		t.Fatal("non-running session must be skipped")
	}
}

package service

import (
	"fmt"
	"time"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/dushixiang/gauntlet/pkg/sim"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OrderRequest 待检订单
type OrderRequest struct {
	Symbol   string
	Side     exchange.PositionSide
	Quantity float64
	Price    float64
	Leverage int
}

// Notional 订单名义价值
func (o OrderRequest) Notional() float64 {
	return o.Price * o.Quantity
}

// SessionSnapshot 会话状态的一次性拷贝
// 风控巡检只读快照，绝不持有会话锁做整轮检查
type SessionSnapshot struct {
	SessionID      string
	StrategyID     string
	Mode           models.SessionMode
	Status         models.SessionStatus
	Equity         float64
	PeakEquity     float64
	DayStartEquity float64
	InitialCapital float64
	Limits         models.RiskLimits
}

// SessionRegistry 运行中会话的注册表，由模拟盘/实盘引擎实现
type SessionRegistry interface {
	// Snapshots 返回所有运行中会话的状态快照
	Snapshots() []SessionSnapshot
	// TripBreaker 触发熔断：清仓、关闭进单、会话置为失败
	// 幂等，重复触发同一会话只生效一次
	TripBreaker(sessionID string, reason string)
}

// RiskService 风控服务
// 交易前检查与仓位计算是纯函数；持续巡检由 cron 驱动
type RiskService struct {
	logger *zap.Logger
	conf   config.RiskConf
	cron   *cron.Cron
}

// NewRiskService 创建风控服务
func NewRiskService(conf *config.Config, logger *zap.Logger) *RiskService {
	return &RiskService{
		logger: logger,
		conf:   conf.Risk,
	}
}

// DefaultLimits 按配置生成会话默认的风控限制
func (s *RiskService) DefaultLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxDrawdownPercent:    s.conf.MaxDrawdownPercent,
		MaxPositionPercent:    s.conf.MaxPositionPercent,
		MaxPositions:          s.conf.MaxPositions,
		DailyLossLimitPercent: s.conf.DailyLossLimitPercent,
		MaxLeverage:           s.conf.MaxLeverage,
	}
}

// Check 交易前检查，按固定顺序执行，第一条不通过的规则即为拒绝原因
// 顺序：单仓规模 -> 持仓数量 -> 杠杆
func (s *RiskService) Check(order OrderRequest, portfolio *sim.Portfolio, limits models.RiskLimits) (allowed bool, reason string) {
	equity := portfolio.Equity(map[string]float64{order.Symbol: order.Price})

	if limits.MaxPositionPercent > 0 && equity > 0 {
		maxNotional := equity * limits.MaxPositionPercent / 100
		if order.Notional() > maxNotional {
			return false, fmt.Sprintf("position size %.2f exceeds %.2f%% of equity (max %.2f)",
				order.Notional(), limits.MaxPositionPercent, maxNotional)
		}
	}

	if limits.MaxPositions > 0 {
		// 同一交易对加仓不增加持仓数量
		if _, holding := portfolio.Position(order.Symbol); !holding {
			if portfolio.OpenCount() >= limits.MaxPositions {
				return false, fmt.Sprintf("open positions %d reached limit %d",
					portfolio.OpenCount(), limits.MaxPositions)
			}
		}
	}

	if limits.MaxLeverage > 0 && order.Leverage > limits.MaxLeverage {
		return false, fmt.Sprintf("leverage %d exceeds limit %d", order.Leverage, limits.MaxLeverage)
	}

	return true, ""
}

// Size 仓位计算，返回订单名义价值
// 基础仓位按置信度缩放，波动越大仓位越小，最终截断到单仓规模上限，
// 保证产出的订单不会再被 Check 的规模规则拒绝
func (s *RiskService) Size(confidence, volatility, equity float64, limits models.RiskLimits) float64 {
	if equity <= 0 || confidence <= 0 {
		return 0
	}

	baseFraction := s.conf.BaseFraction
	if baseFraction <= 0 {
		baseFraction = 10
	}

	notional := equity * baseFraction / 100 * confidence
	if volatility > 0 {
		notional /= 1 + volatility*10
	}

	if limits.MaxPositionPercent > 0 {
		maxNotional := equity * limits.MaxPositionPercent / 100
		if notional > maxNotional {
			notional = maxNotional
		}
	}
	return notional
}

// Assess 评估单个会话快照是否触发熔断，返回触发的限制描述
// 两条线：距峰值回撤、当日亏损
func (s *RiskService) Assess(snap SessionSnapshot) (breached bool, reason string) {
	if snap.PeakEquity > 0 && snap.Limits.MaxDrawdownPercent > 0 {
		drawdown := (snap.PeakEquity - snap.Equity) / snap.PeakEquity * 100
		if drawdown >= snap.Limits.MaxDrawdownPercent {
			return true, fmt.Sprintf("max_drawdown: %.2f%% >= limit %.2f%%",
				drawdown, snap.Limits.MaxDrawdownPercent)
		}
	}

	if snap.DayStartEquity > 0 && snap.Limits.DailyLossLimitPercent > 0 {
		dailyLoss := (snap.DayStartEquity - snap.Equity) / snap.DayStartEquity * 100
		if dailyLoss >= snap.Limits.DailyLossLimitPercent {
			return true, fmt.Sprintf("daily_loss: %.2f%% >= limit %.2f%%",
				dailyLoss, snap.Limits.DailyLossLimitPercent)
		}
	}

	return false, ""
}

// StartMonitor 启动持续巡检
// 每轮对注册表里的运行中会话做快照评估，触线即熔断；
// 会话之间严格隔离，一个会话熔断不影响其他会话
func (s *RiskService) StartMonitor(registry SessionRegistry, spec string) error {
	if spec == "" {
		spec = "@every 1m"
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		s.MonitorOnce(registry)
	})
	if err != nil {
		return fmt.Errorf("failed to add risk monitor job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("risk monitor started", zap.String("spec", spec))
	return nil
}

// MonitorOnce 执行一轮巡检
// TripBreaker 幂等，巡检重复触发同一会话不会重复清仓
func (s *RiskService) MonitorOnce(registry SessionRegistry) {
	started := time.Now()

	for _, snap := range registry.Snapshots() {
		if snap.Status != models.SessionStatusRunning {
			continue
		}

		breached, reason := s.Assess(snap)
		if !breached {
			continue
		}

		s.logger.Warn("risk limit breached, tripping circuit breaker",
			zap.String("session_id", snap.SessionID),
			zap.String("strategy_id", snap.StrategyID),
			zap.String("reason", reason))
		registry.TripBreaker(snap.SessionID, reason)
	}

	s.logger.Debug("risk monitor tick finished", zap.Duration("elapsed", time.Since(started)))
}

// StopMonitor 停止巡检
func (s *RiskService) StopMonitor() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("risk monitor stopped")
	}
}

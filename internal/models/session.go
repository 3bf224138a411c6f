package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionMode 会话模式
type SessionMode string

const (
	SessionModeBacktest SessionMode = "backtest" // 历史回测
	SessionModePaper    SessionMode = "paper"    // 模拟盘
	SessionModeLive     SessionMode = "live"     // 实盘
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusPaused       SessionStatus = "paused"
	SessionStatusStopped      SessionStatus = "stopped" // 手动停止，终态
	SessionStatusFailed       SessionStatus = "failed"  // 风控熔断，终态
)

// Terminal 是否为终态，终态会话不可复用，恢复评估必须新建会话
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusStopped || s == SessionStatusFailed
}

// RiskLimits 风控限制，按会话挂载，默认值来自策略类型的风控策略配置
type RiskLimits struct {
	MaxDrawdownPercent    float64 `gorm:"type:decimal(10,4)" json:"max_drawdown_percent"`     // 最大回撤百分比
	MaxPositionPercent    float64 `gorm:"type:decimal(10,4)" json:"max_position_percent"`     // 单仓占权益最大百分比
	MaxPositions          int     `gorm:"type:int" json:"max_positions"`                      // 最大并发持仓数
	DailyLossLimitPercent float64 `gorm:"type:decimal(10,4)" json:"daily_loss_limit_percent"` // 单日亏损上限百分比
	MaxLeverage           int     `gorm:"type:int" json:"max_leverage"`                       // 杠杆上限
}

// Session 一次评估会话（回测、模拟盘或实盘）
// 不变式：每个策略至多存在一个非终态的模拟盘会话
type Session struct {
	ID             string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	StrategyID     string         `gorm:"type:varchar(26);not null;index" json:"strategy_id"` // 关联策略
	Mode           SessionMode    `gorm:"type:varchar(10);not null;index" json:"mode"`        // 会话模式
	Symbol         string         `gorm:"type:varchar(20);not null" json:"symbol"`            // 交易对
	InitialCapital float64        `gorm:"type:decimal(20,8);not null" json:"initial_capital"` // 初始资金
	Status         SessionStatus  `gorm:"type:varchar(15);not null;index" json:"status"`      // 会话状态
	FailReason     string         `gorm:"type:text" json:"fail_reason"`                       // 失败原因（风控熔断时记录触发的限制）
	Degraded       bool           `gorm:"default:false" json:"degraded"`                      // 持久化降级标记，等待人工对账
	Limits         RiskLimits     `gorm:"embedded;embeddedPrefix:limit_" json:"limits"`       // 风控限制
	StartedAt      time.Time      `gorm:"not null;index" json:"started_at"`                   // 开始时间
	EndedAt        *time.Time     `json:"ended_at,omitempty"`                                 // 结束时间
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "sessions"
}

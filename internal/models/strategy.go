package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StrategyKind 策略类型，封闭集合
// 只在构造 Strategy 时校验一次，未知类型在这个边界直接拒绝
type StrategyKind string

const (
	StrategyKindMomentum      StrategyKind = "momentum"        // 动量
	StrategyKindMeanReversion StrategyKind = "mean_reversion"  // 均值回归
	StrategyKindBreakout      StrategyKind = "breakout"        // 突破
	StrategyKindGrid          StrategyKind = "grid"            // 网格
	StrategyKindDCA           StrategyKind = "dca"             // 定投
	StrategyKindGenerated     StrategyKind = "generated_other" // 外部生成器产出的其他策略
)

// ParseStrategyKind 校验并解析策略类型
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch kind := StrategyKind(s); kind {
	case StrategyKindMomentum, StrategyKindMeanReversion, StrategyKindBreakout,
		StrategyKindGrid, StrategyKindDCA, StrategyKindGenerated:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown strategy kind: %q", s)
	}
}

// StrategyStatus 策略生命周期状态
type StrategyStatus string

const (
	StrategyStatusGenerated    StrategyStatus = "generated"     // 已生成，等待评估
	StrategyStatusBacktesting  StrategyStatus = "backtesting"   // 回测中
	StrategyStatusPaperTrading StrategyStatus = "paper_trading" // 模拟盘评估中
	StrategyStatusLive         StrategyStatus = "live"          // 已上实盘
	StrategyStatusRetired      StrategyStatus = "retired"       // 已退役
)

// Terminal 是否为终态
func (s StrategyStatus) Terminal() bool {
	return s == StrategyStatusRetired
}

// Strategy 候选策略
// 参数在进入回测后不可变更，调参视为新策略
type Strategy struct {
	ID           string            `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Name         string            `gorm:"type:varchar(100);not null" json:"name"`            // 策略名称
	Kind         StrategyKind      `gorm:"type:varchar(20);not null;index" json:"kind"`       // 策略类型
	Symbol       string            `gorm:"type:varchar(20);not null;index" json:"symbol"`     // 交易对
	Params       datatypes.JSONMap `gorm:"type:json" json:"params"`                           // 策略参数（不透明键值对）
	Status       StrategyStatus    `gorm:"type:varchar(20);not null;index" json:"status"`     // 生命周期状态
	RetireReason string            `gorm:"type:text" json:"retire_reason"`                    // 退役原因
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Strategy) TableName() string {
	return "strategies"
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade 交易记录，一条记录对应一次完整的开平仓
// 仅追加，写入后不可修改
type Trade struct {
	ID           string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	SessionID    string         `gorm:"type:varchar(26);not null;index" json:"session_id"` // 关联会话
	Symbol       string         `gorm:"type:varchar(20);not null;index" json:"symbol"`     // 交易对
	Side         string         `gorm:"type:varchar(10);not null" json:"side"`             // long/short
	Quantity     float64        `gorm:"type:decimal(20,8);not null" json:"quantity"`       // 成交数量
	EntryPrice   float64        `gorm:"type:decimal(20,8);not null" json:"entry_price"`    // 开仓价格（含滑点）
	ExitPrice    float64        `gorm:"type:decimal(20,8);not null" json:"exit_price"`     // 平仓价格（含滑点）
	Leverage     int            `gorm:"type:int" json:"leverage"`                          // 杠杆倍数
	Fee          float64        `gorm:"type:decimal(20,8)" json:"fee"`                     // 总手续费（开仓+平仓）
	SlippageCost float64        `gorm:"type:decimal(20,8)" json:"slippage_cost"`           // 总滑点成本
	RealizedPnl  float64        `gorm:"type:decimal(20,8)" json:"realized_pnl"`            // 已实现盈亏（扣除摩擦成本）
	ExitReason   string         `gorm:"type:varchar(50)" json:"exit_reason"`               // 平仓原因（signal/stop_loss/take_profit/circuit_breaker/session_end）
	OpenedAt     time.Time      `gorm:"not null;index" json:"opened_at"`                   // 开仓时间
	ClosedAt     time.Time      `gorm:"not null;index" json:"closed_at"`                   // 平仓时间
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trades"
}

// GrossPnl 无摩擦盈亏，同样的进出场价格在零费零滑点下的盈亏
func (t *Trade) GrossPnl() float64 {
	direction := 1.0
	if t.Side == "short" {
		direction = -1.0
	}
	return (t.ExitPrice - t.EntryPrice) * t.Quantity * direction
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Position 持仓快照，仅在持仓存在期间有记录，平仓即删除并生成 Trade
// UnrealizedPnl 是派生值，读取时按最新价格重算，不信任存储值
type Position struct {
	ID            string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	SessionID     string         `gorm:"type:varchar(26);not null;index" json:"session_id"` // 关联会话
	Symbol        string         `gorm:"type:varchar(20);not null;index" json:"symbol"`     // 交易对
	Side          string         `gorm:"type:varchar(10);not null" json:"side"`             // long/short
	Quantity      float64        `gorm:"type:decimal(20,8);not null" json:"quantity"`       // 持仓数量
	EntryPrice    float64        `gorm:"type:decimal(20,8);not null" json:"entry_price"`    // 开仓均价
	CurrentPrice  float64        `gorm:"type:decimal(20,8)" json:"current_price"`           // 最新标记价格
	UnrealizedPnl float64        `gorm:"type:decimal(20,8)" json:"unrealized_pnl"`          // 未实现盈亏
	Leverage      int            `gorm:"type:int;not null" json:"leverage"`                 // 杠杆倍数
	MarginType    string         `gorm:"type:varchar(10)" json:"margin_type"`               // 保证金模式 CROSSED/ISOLATED
	StopLoss      float64        `gorm:"type:decimal(20,8)" json:"stop_loss"`               // 止损价格
	TakeProfit    float64        `gorm:"type:decimal(20,8)" json:"take_profit"`             // 止盈价格
	OpenedAt      time.Time      `gorm:"not null" json:"opened_at"`                         // 开仓时间
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (*Position) TableName() string {
	return "positions"
}

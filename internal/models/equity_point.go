package models

import (
	"time"

	"gorm.io/gorm"
)

// EquityPoint 资金曲线数据点
// 不变式：同一会话内 RecordedAt 严格递增
type EquityPoint struct {
	ID              string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	SessionID       string         `gorm:"type:varchar(26);not null;index:idx_session_recorded" json:"session_id"` // 关联会话
	Equity          float64        `gorm:"type:decimal(20,8);not null" json:"equity"`                              // 权益 = 现金 + 持仓按市价估值
	DrawdownPercent float64        `gorm:"type:decimal(10,4)" json:"drawdown_percent"`                             // 距历史峰值的回撤百分比，正数表示回撤幅度
	RecordedAt      time.Time      `gorm:"not null;index:idx_session_recorded" json:"recorded_at"`                 // 记录时间
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (EquityPoint) TableName() string {
	return "equity_points"
}

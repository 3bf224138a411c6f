package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GateStage 晋升门槛所处的阶段
type GateStage string

const (
	GateStageBacktest GateStage = "backtest" // 回测 -> 模拟盘
	GateStagePaper    GateStage = "paper"    // 模拟盘 -> 实盘
)

// GateCheck 单项门槛评估结果
// 对外永远是结构化的 {criterion, threshold, actual}，不是裸布尔值
type GateCheck struct {
	Criterion string  `json:"criterion"` // 评估项：trade_count/win_rate/sharpe_ratio/max_drawdown
	Threshold float64 `json:"threshold"` // 门槛值
	Actual    float64 `json:"actual"`    // 实际值
	Passed    bool    `json:"passed"`
}

// GateReport 晋升门槛评估报告，每次阶段转换记录一条
type GateReport struct {
	ID          string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	StrategyID  string         `gorm:"type:varchar(26);not null;index" json:"strategy_id"` // 关联策略
	SessionID   string         `gorm:"type:varchar(26);not null;index" json:"session_id"`  // 评估所依据的会话
	Stage       GateStage      `gorm:"type:varchar(10);not null" json:"stage"`             // 评估阶段
	Passed      bool           `gorm:"not null" json:"passed"`                             // 是否通过
	Checks      datatypes.JSON `gorm:"type:json" json:"checks"`                            // 各项评估明细
	EvaluatedAt time.Time      `gorm:"not null;index" json:"evaluated_at"`                 // 评估时间
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (GateReport) TableName() string {
	return "gate_reports"
}

// DecodeChecks 解析评估明细
func (g *GateReport) DecodeChecks() ([]GateCheck, error) {
	var checks []GateCheck
	if len(g.Checks) == 0 {
		return checks, nil
	}
	err := json.Unmarshal(g.Checks, &checks)
	return checks, err
}

// EncodeChecks 序列化评估明细
func EncodeChecks(checks []GateCheck) (datatypes.JSON, error) {
	data, err := json.Marshal(checks)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

package repo

import (
	"context"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewGateReportRepo(db *gorm.DB) *GateReportRepo {
	return &GateReportRepo{
		Repository: orz.NewRepository[models.GateReport, string](db),
	}
}

type GateReportRepo struct {
	orz.Repository[models.GateReport, string]
}

// FindByStrategyID 获取策略的全部门槛评估报告
func (r GateReportRepo) FindByStrategyID(ctx context.Context, strategyID string) ([]models.GateReport, error) {
	var reports []models.GateReport
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ?", strategyID).
		Order("evaluated_at ASC").
		Find(&reports).Error
	return reports, err
}

// FindLatestByStage 获取策略在指定阶段最近一次的评估报告
func (r GateReportRepo) FindLatestByStage(ctx context.Context, strategyID string, stage models.GateStage) (m models.GateReport, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("strategy_id = ? AND stage = ?", strategyID, stage).
		Order("evaluated_at DESC").
		First(&m).Error
	return m, err
}

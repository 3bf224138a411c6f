package repo

import (
	"context"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewStrategyRepo(db *gorm.DB) *StrategyRepo {
	return &StrategyRepo{
		Repository: orz.NewRepository[models.Strategy, string](db),
	}
}

type StrategyRepo struct {
	orz.Repository[models.Strategy, string]
}

// FindNonTerminal 获取所有非终态策略，重启恢复用
func (r StrategyRepo) FindNonTerminal(ctx context.Context) ([]models.Strategy, error) {
	var strategies []models.Strategy
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("status <> ?", models.StrategyStatusRetired).
		Order("created_at ASC").
		Find(&strategies).Error
	return strategies, err
}

// FindByStatus 按状态查询策略
func (r StrategyRepo) FindByStatus(ctx context.Context, status models.StrategyStatus) ([]models.Strategy, error) {
	var strategies []models.Strategy
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&strategies).Error
	return strategies, err
}

// UpdateStatus 更新策略状态
func (r StrategyRepo) UpdateStatus(ctx context.Context, id string, status models.StrategyStatus) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("status", status).Error
}

// Retire 退役策略并记录原因
func (r StrategyRepo) Retire(ctx context.Context, id string, reason string) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.StrategyStatusRetired,
			"retire_reason": reason,
		}).Error
}

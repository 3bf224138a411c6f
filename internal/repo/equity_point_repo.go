package repo

import (
	"context"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewEquityPointRepo(db *gorm.DB) *EquityPointRepo {
	return &EquityPointRepo{
		Repository: orz.NewRepository[models.EquityPoint, string](db),
	}
}

type EquityPointRepo struct {
	orz.Repository[models.EquityPoint, string]
}

// FindBySessionID 按记录时间升序获取会话的资金曲线
func (r EquityPointRepo) FindBySessionID(ctx context.Context, sessionID string) ([]models.EquityPoint, error) {
	var points []models.EquityPoint
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("session_id = ?", sessionID).
		Order("recorded_at ASC").
		Find(&points).Error
	return points, err
}

// PeakEquity 获取会话历史最高权益
func (r EquityPointRepo) PeakEquity(ctx context.Context, sessionID string) (float64, error) {
	var peak float64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(equity), 0)").
		Scan(&peak).Error
	return peak, err
}

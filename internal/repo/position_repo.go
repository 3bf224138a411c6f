package repo

import (
	"context"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewPositionRepo(db *gorm.DB) *PositionRepo {
	return &PositionRepo{
		Repository: orz.NewRepository[models.Position, string](db),
	}
}

type PositionRepo struct {
	orz.Repository[models.Position, string]
}

// FindBySessionID 获取会话当前的持仓快照
func (r PositionRepo) FindBySessionID(ctx context.Context, sessionID string) ([]models.Position, error) {
	var positions []models.Position
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("session_id = ?", sessionID).
		Find(&positions).Error
	return positions, err
}

// FindBySessionAndSymbol 获取会话在指定交易对上的持仓
func (r PositionRepo) FindBySessionAndSymbol(ctx context.Context, sessionID, symbol string) (m models.Position, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("session_id = ? AND symbol = ?", sessionID, symbol).
		First(&m).Error
	return m, err
}

// DeleteBySessionAndSymbol 平仓后删除持仓快照
func (r PositionRepo) DeleteBySessionAndSymbol(ctx context.Context, sessionID, symbol string) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("session_id = ? AND symbol = ?", sessionID, symbol).
		Delete(&models.Position{}).Error
}

package repo

import (
	"context"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewTradeRepo(db *gorm.DB) *TradeRepo {
	return &TradeRepo{
		Repository: orz.NewRepository[models.Trade, string](db),
	}
}

type TradeRepo struct {
	orz.Repository[models.Trade, string]
}

// FindBySessionID 按平仓时间升序获取会话的全部成交
func (r TradeRepo) FindBySessionID(ctx context.Context, sessionID string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("session_id = ?", sessionID).
		Order("closed_at ASC").
		Find(&trades).Error
	return trades, err
}

// CountBySessionID 统计会话的成交数量
func (r TradeRepo) CountBySessionID(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

// FindRecentBySessionID 获取会话最近的成交记录
func (r TradeRepo) FindRecentBySessionID(ctx context.Context, sessionID string, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("session_id = ?", sessionID).
		Order("closed_at DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

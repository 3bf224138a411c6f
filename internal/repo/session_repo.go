package repo

import (
	"context"

	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{
		Repository: orz.NewRepository[models.Session, string](db),
	}
}

type SessionRepo struct {
	orz.Repository[models.Session, string]
}

// FindNonTerminal 获取所有非终态会话，重启恢复用
func (r SessionRepo) FindNonTerminal(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("status NOT IN ?", []models.SessionStatus{models.SessionStatusStopped, models.SessionStatusFailed}).
		Order("started_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// FindActiveByStrategy 获取策略在指定模式下的非终态会话
func (r SessionRepo) FindActiveByStrategy(ctx context.Context, strategyID string, mode models.SessionMode) (m models.Session, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("strategy_id = ? AND mode = ?", strategyID, mode).
		Where("status NOT IN ?", []models.SessionStatus{models.SessionStatusStopped, models.SessionStatusFailed}).
		Order("started_at DESC").
		First(&m).Error
	return m, err
}

// FindByStrategyID 获取策略的全部会话
func (r SessionRepo) FindByStrategyID(ctx context.Context, strategyID string) ([]models.Session, error) {
	var sessions []models.Session
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ?", strategyID).
		Order("started_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// UpdateStatus 更新会话状态
func (r SessionRepo) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("status", status).Error
}

// MarkDegraded 标记会话进入持久化降级状态
func (r SessionRepo) MarkDegraded(ctx context.Context, id string) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("degraded", true).Error
}

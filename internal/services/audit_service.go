package services

import (
	"context"
	"fmt"

	"github.com/retailops/installment-api/internal/models"
	"github.com/retailops/installment-api/pkg/logger"
	"gorm.io/gorm"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Log records an audit entry
func (s *AuditService) Log(ctx context.Context, actor, action, entity string, entityID uint, details string) error {
	logEntry := &models.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Details:  details,
	}
	return s.db.WithContext(ctx).Create(logEntry).Error
}

// LogAsync records an audit entry without failing the caller. Audit write
// errors are logged and swallowed.
func (s *AuditService) LogAsync(ctx context.Context, actor, action, entity string, entityID uint, details string) {
	if s == nil || s.db == nil {
		return
	}
	if err := s.Log(ctx, actor, action, entity, entityID, details); err != nil {
		logger.Error(fmt.Sprintf("audit write failed for %s/%d: %v", entity, entityID, err))
	}
}

// List retrieves audit logs, newest first
func (s *AuditService) List(ctx context.Context, limit, offset int) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	if err := s.db.WithContext(ctx).Model(&models.AuditLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Offset(offset).Find(&logs)
	return logs, total, result.Error
}

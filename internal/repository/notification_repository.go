package repository

import (
	"context"

	"github.com/retailops/installment-api/internal/models"
	"gorm.io/gorm"
)

// NotificationRepository handles customer notification persistence
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	FindByCustomer(ctx context.Context, customerID string, query *ListQuery) ([]models.Notification, int64, error)
	FindByID(ctx context.Context, id uint) (*models.Notification, error)
	Update(ctx context.Context, notification *models.Notification) error
	MarkAllAsRead(ctx context.Context, customerID string) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) FindByCustomer(ctx context.Context, customerID string, query *ListQuery) ([]models.Notification, int64, error) {
	var notifications []models.Notification
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("customer_id = ?", customerID)

	if query != nil && query.Filters != nil {
		if val, ok := query.Filters["unread"]; ok && val == "true" {
			db = db.Where("read_at IS NULL")
		}
		if val, ok := query.Filters["notification_type"]; ok && val != "" {
			db = db.Where("notification_type = ?", val)
		}
	}

	countDB := db.Session(&gorm.Session{})
	if err := countDB.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order("created_at DESC")
	if query != nil && query.PerPage > 0 {
		db = db.Offset((query.Page - 1) * query.PerPage).Limit(query.PerPage)
	}

	err := db.Find(&notifications).Error
	return notifications, total, err
}

func (r *notificationRepository) FindByID(ctx context.Context, id uint) (*models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).First(&notification, id).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *notificationRepository) Update(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Save(notification).Error
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, customerID string) error {
	return r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("customer_id = ? AND read_at IS NULL", customerID).
		Update("read_at", gorm.Expr("NOW()")).Error
}

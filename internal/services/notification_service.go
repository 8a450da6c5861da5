package services

import (
	"context"
	"errors"

	"github.com/retailops/installment-api/internal/models"
	"github.com/retailops/installment-api/internal/repository"
	"gorm.io/gorm"
)

type NotificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) FindByID(ctx context.Context, id uint) (*models.Notification, error) {
	notification, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return notification, nil
}

func (s *NotificationService) FindByCustomer(ctx context.Context, customerID string, query *repository.ListQuery) ([]models.Notification, int64, error) {
	return s.repo.FindByCustomer(ctx, customerID, query)
}

func (s *NotificationService) MarkAsRead(ctx context.Context, id uint) error {
	notification, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	notification.MarkAsRead()
	return s.repo.Update(ctx, notification)
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, customerID string) error {
	return s.repo.MarkAllAsRead(ctx, customerID)
}

func (s *NotificationService) NotifyCustomer(ctx context.Context, customerID, title, message, notifType string) error {
	notification := &models.Notification{
		CustomerID:       customerID,
		Title:            title,
		Message:          message,
		NotificationType: &notifType,
	}
	return s.repo.Create(ctx, notification)
}

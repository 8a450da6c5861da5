package repository

import (
	"context"
	"errors"

	"github.com/retailops/installment-api/internal/models"
	"gorm.io/gorm"
)

// ErrStaleModification reports that a guarded update matched no row: another
// writer moved the modification out of the status the caller read it at.
var ErrStaleModification = errors.New("modification was updated concurrently")

// ModificationRepository handles modification request persistence
type ModificationRepository interface {
	Create(ctx context.Context, mod *models.InstallmentModification) error
	FindByID(ctx context.Context, id uint) (*models.InstallmentModification, error)
	FindByGUID(ctx context.Context, guid string) (*models.InstallmentModification, error)
	Update(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error
	FindByPlan(ctx context.Context, planID uint, query *ListQuery) ([]models.InstallmentModification, int64, error)
	CountPendingByPlan(ctx context.Context, planID uint) (int64, error)
}

type modificationRepository struct {
	db *gorm.DB
}

// NewModificationRepository creates a new modification repository
func NewModificationRepository(db *gorm.DB) ModificationRepository {
	return &modificationRepository{db: db}
}

func (r *modificationRepository) Create(ctx context.Context, mod *models.InstallmentModification) error {
	return r.db.WithContext(ctx).Create(mod).Error
}

func (r *modificationRepository) FindByID(ctx context.Context, id uint) (*models.InstallmentModification, error) {
	var mod models.InstallmentModification
	if err := r.db.WithContext(ctx).First(&mod, id).Error; err != nil {
		return nil, err
	}
	return &mod, nil
}

func (r *modificationRepository) FindByGUID(ctx context.Context, guid string) (*models.InstallmentModification, error) {
	var mod models.InstallmentModification
	if err := r.db.WithContext(ctx).Where("guid = ?", guid).First(&mod).Error; err != nil {
		return nil, err
	}
	return &mod, nil
}

// Update persists decision fields guarded by the status the caller observed.
// Zero affected rows means a concurrent writer transitioned the row first.
func (r *modificationRepository) Update(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error {
	result := r.db.WithContext(ctx).Model(&models.InstallmentModification{}).
		Where("id = ? AND status = ?", mod.ID, expectedStatus).
		Updates(map[string]interface{}{
			"status":           mod.Status,
			"new_plan":         mod.NewPlan,
			"approved_by":      mod.ApprovedBy,
			"approval_notes":   mod.ApprovalNotes,
			"approved_at":      mod.ApprovedAt,
			"rejected_by":      mod.RejectedBy,
			"rejection_reason": mod.RejectionReason,
			"rejected_at":      mod.RejectedAt,
			"applied_at":       mod.AppliedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleModification
	}
	return nil
}

func (r *modificationRepository) FindByPlan(ctx context.Context, planID uint, query *ListQuery) ([]models.InstallmentModification, int64, error) {
	var mods []models.InstallmentModification
	var total int64

	db := r.db.WithContext(ctx).Model(&models.InstallmentModification{}).
		Where("plan_id = ?", planID)

	if query != nil && query.Filters != nil {
		if val, ok := query.Filters["status"]; ok && val != "" {
			db = db.Where("status = ?", val)
		}
		if val, ok := query.Filters["modification_type"]; ok && val != "" {
			db = db.Where("modification_type = ?", val)
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

	err := db.Find(&mods).Error
	return mods, total, err
}

func (r *modificationRepository) CountPendingByPlan(ctx context.Context, planID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.InstallmentModification{}).
		Where("plan_id = ? AND status = ?", planID, models.ModificationStatusPending).
		Count(&count).Error
	return count, err
}

package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/retailops/installment-api/internal/models"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when an optimistic version check fails,
// meaning another writer committed to the same plan first.
var ErrVersionConflict = errors.New("plan was modified concurrently")

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	SortBy  string
	SortDir string
	Filters map[string]string
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
		Filters: make(map[string]string),
	}
}

// PlanQuery extends ListQuery with plan-specific filters
type PlanQuery struct {
	*ListQuery
	CustomerID string
	SaleID     string
	Status     string
}

// PlanRepository is the data-access interface for the InstallmentPlan
// aggregate. A plan is always written and read together with its items and
// full payment schedule; it is never visible half-constructed.
type PlanRepository interface {
	FindByID(ctx context.Context, id uint) (*models.InstallmentPlan, error)
	Create(ctx context.Context, plan *models.InstallmentPlan) error
	Update(ctx context.Context, plan *models.InstallmentPlan) error
	List(ctx context.Context, query *PlanQuery) ([]models.InstallmentPlan, int64, error)
	FindActiveWithPastDue(ctx context.Context) ([]models.InstallmentPlan, error)
	CommitPayment(ctx context.Context, plan *models.InstallmentPlan, payment *models.Payment) error
	ReplaceSchedule(ctx context.Context, plan *models.InstallmentPlan, fromInstallmentNo int, payments []models.Payment, newItems []models.PlanItem) error
}

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) FindByID(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
	var plan models.InstallmentPlan
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("installment_no ASC")
		}).
		First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Create persists the plan together with its items and full schedule.
// SkipDefaultTransaction is on, so the aggregate write is wrapped explicitly.
func (r *planRepository) Create(ctx context.Context, plan *models.InstallmentPlan) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(plan).Error
	})
}

// Update writes the plan row and its payment rows, guarded by the version the
// caller read the plan at.
func (r *planRepository) Update(ctx context.Context, plan *models.InstallmentPlan) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkedPlanUpdate(tx, plan); err != nil {
			return err
		}
		for i := range plan.Payments {
			if err := tx.Save(&plan.Payments[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// mutableColumns lists the plan columns a checked write is allowed to touch.
// The version column is always bumped by exactly one.
func mutableColumns(plan *models.InstallmentPlan) map[string]interface{} {
	return map[string]interface{}{
		"total_price":            plan.TotalPrice,
		"down_payment":           plan.DownPayment,
		"number_of_installments": plan.NumberOfInstallments,
		"installment_amount":     plan.InstallmentAmount,
		"interest_rate":          plan.InterestRate,
		"end_date":               plan.EndDate,
		"status":                 plan.Status,
		"note":                   plan.Note,
		"completed_at":           plan.CompletedAt,
		"cancelled_at":           plan.CancelledAt,
		"defaulted_at":           plan.DefaultedAt,
		"version":                plan.Version + 1,
	}
}

// checkedPlanUpdate writes the plan row guarded by the version the caller
// read. Zero rows affected means a concurrent writer won the race.
func checkedPlanUpdate(tx *gorm.DB, plan *models.InstallmentPlan) error {
	res := tx.Model(&models.InstallmentPlan{}).
		Where("id = ? AND version = ?", plan.ID, plan.Version).
		Updates(mutableColumns(plan))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	plan.Version++
	return nil
}

// CommitPayment atomically persists one mutated payment row together with the
// recomputed plan aggregates, guarded by the plan version.
func (r *planRepository) CommitPayment(ctx context.Context, plan *models.InstallmentPlan, payment *models.Payment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkedPlanUpdate(tx, plan); err != nil {
			return err
		}
		return tx.Save(payment).Error
	})
}

// ReplaceSchedule atomically swaps the unpaid suffix of the schedule
// (installment_no >= fromInstallmentNo) for the supplied payments, persists
// updated plan terms and appends any new product lines. All-or-nothing.
func (r *planRepository) ReplaceSchedule(ctx context.Context, plan *models.InstallmentPlan, fromInstallmentNo int, payments []models.Payment, newItems []models.PlanItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkedPlanUpdate(tx, plan); err != nil {
			return err
		}
		if err := tx.Where("plan_id = ? AND installment_no >= ?", plan.ID, fromInstallmentNo).
			Delete(&models.Payment{}).Error; err != nil {
			return err
		}
		for i := range payments {
			payments[i].PlanID = plan.ID
			if err := tx.Create(&payments[i]).Error; err != nil {
				return err
			}
		}
		for i := range newItems {
			newItems[i].PlanID = plan.ID
			if err := tx.Create(&newItems[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *planRepository) List(ctx context.Context, query *PlanQuery) ([]models.InstallmentPlan, int64, error) {
	var plans []models.InstallmentPlan
	var total int64

	db := r.db.WithContext(ctx).Model(&models.InstallmentPlan{})

	if query.CustomerID != "" {
		db = db.Where("installment_plans.customer_id = ?", query.CustomerID)
	}
	if query.SaleID != "" {
		db = db.Where("installment_plans.sale_id = ?", query.SaleID)
	}

	// Status filter (single or comma-separated)
	if query.Status != "" {
		if strings.Contains(query.Status, ",") {
			statuses := strings.Split(query.Status, ",")
			for i, s := range statuses {
				statuses[i] = strings.TrimSpace(s)
			}
			db = db.Where("installment_plans.status IN ?", statuses)
		} else {
			db = db.Where("installment_plans.status = ?", query.Status)
		}
	}

	if query.Filters != nil {
		if val, ok := query.Filters["start_date"]; ok && val != "" {
			db = db.Where("installment_plans.created_at >= ?", val)
		}
		if val, ok := query.Filters["end_date"]; ok && val != "" {
			if len(val) == 10 { // YYYY-MM-DD
				val += " 23:59:59"
			}
			db = db.Where("installment_plans.created_at <= ?", val)
		}
		if val, ok := query.Filters["guid"]; ok && val != "" {
			db = db.Where("installment_plans.guid = ?", val)
		}
	}

	if query.Search != "" {
		search := "%" + query.Search + "%"
		db = db.Where("installment_plans.customer_id ILIKE ? OR installment_plans.sale_id ILIKE ? OR installment_plans.guid ILIKE ?",
			search, search, search)
	}

	// Count with a separate session so the main query is not altered by Count()
	countDB := db.Session(&gorm.Session{})
	if err := countDB.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if query.SortBy != "" {
		order := query.SortBy
		if query.SortDir == "desc" {
			order += " DESC"
		}
		db = db.Order(order)
	} else {
		db = db.Order("installment_plans.created_at DESC")
	}

	if query.PerPage > 0 {
		db = db.Offset((query.Page - 1) * query.PerPage).Limit(query.PerPage)
	}

	err := db.
		Preload("Items").
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("installment_no ASC")
		}).
		Find(&plans).Error

	return plans, total, err
}

// FindActiveWithPastDue returns non-terminal plans that have at least one
// unsettled payment past its due date. Used by the overdue refresh job.
func (r *planRepository) FindActiveWithPastDue(ctx context.Context) ([]models.InstallmentPlan, error) {
	var plans []models.InstallmentPlan
	err := r.db.WithContext(ctx).
		Where("installment_plans.status IN ?", []string{models.PlanStatusActive, models.PlanStatusOverdue}).
		Where("EXISTS (SELECT 1 FROM payments WHERE payments.plan_id = installment_plans.id AND payments.status <> ? AND payments.due_date < CURRENT_DATE)",
			models.PaymentStatusPaid).
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("installment_no ASC")
		}).
		Find(&plans).Error
	return plans, err
}

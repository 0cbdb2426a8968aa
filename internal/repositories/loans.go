package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/models"
)

// LoanRepository provides access to loan aggregates. Status changes go
// through TransitionCAS only, so concurrent conflicting transitions lose
// with STALE_STATE instead of overwriting each other.
type LoanRepository interface {
	WithTx(tx *gorm.DB) LoanRepository
	Create(ctx context.Context, loan *models.Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	TransitionCAS(ctx context.Context, loan *models.Loan, to domain.LoanStatus, updates map[string]interface{}) error
	ListActiveOverdue(ctx context.Context, asOf time.Time) ([]models.Loan, error)
}

type loanRepository struct {
	db *gorm.DB
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) WithTx(tx *gorm.DB) LoanRepository {
	return &loanRepository{db: tx}
}

// Create creates a new loan
func (r *loanRepository) Create(ctx context.Context, loan *models.Loan) error {
	if err := r.db.WithContext(ctx).Create(loan).Error; err != nil {
		return errors.Wrap(err, "failed to create loan")
	}
	return nil
}

// GetByID gets a loan by ID
func (r *loanRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "loan", id)
	}
	return &loan, nil
}

// TransitionCAS advances loan to the target status with a compare-and-set
// on (status, version). A zero-row update means another transition won the
// race; the caller re-fetches and retries or surfaces STALE_STATE.
func (r *loanRepository) TransitionCAS(ctx context.Context, loan *models.Loan, to domain.LoanStatus, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = string(to)
	updates["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("id = ? AND status = ? AND version = ?", loan.ID, loan.Status, loan.Version).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to transition loan")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindStaleState,
			"loan %s changed concurrently, re-fetch and retry", loan.ID)
	}

	applyLoanUpdates(loan, updates)
	loan.Status = string(to)
	loan.Version++
	return nil
}

// ListActiveOverdue lists active loans past their estimated return date
func (r *loanRepository) ListActiveOverdue(ctx context.Context, asOf time.Time) ([]models.Loan, error) {
	var loans []models.Loan
	err := r.db.WithContext(ctx).
		Where("status = ? AND estimated_return_date < ?", string(domain.LoanActive), asOf).
		Order("estimated_return_date").
		Find(&loans).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list overdue loans")
	}
	return loans, nil
}

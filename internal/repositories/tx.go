package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/domain"
)

// TxRunner executes fn inside one database transaction. Every workflow
// commit that pairs a status transition with ledger mutations goes through
// a single runner call so the pair is atomic.
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormTxRunner builds a TxRunner over a gorm connection.
func GormTxRunner(db *gorm.DB) TxRunner {
	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return db.WithContext(ctx).Transaction(fn)
	}
}

// IsRecordNotFoundError reports whether err is gorm's missing-row error.
func IsRecordNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// notFound translates a gorm lookup failure into the workflow taxonomy.
func notFound(err error, what string, id interface{}) error {
	if IsRecordNotFoundError(err) {
		return domain.Errorf(domain.KindNotFound, "%s %v not found", what, id)
	}
	return err
}

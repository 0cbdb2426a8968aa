package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/messaging"
	"example.com/backstage/services/inventory/internal/search"
)

// Notifier delivers workflow notifications. Delivery is best-effort: the
// workflow commit never rolls back because a notification failed.
type Notifier interface {
	Notify(ctx context.Context, notification messaging.Notification) error
}

// TripDispatcher asks the transport service to schedule a trip
type TripDispatcher interface {
	Dispatch(ctx context.Context, cmd messaging.DispatchCommand) error
}

// AuditIndexer records completed workflow outcomes for reporting
type AuditIndexer interface {
	IndexAuditEvent(ctx context.Context, doc *search.AuditDocument) error
}

// withStaleRetry re-runs fn after optimistic lock conflicts, up to attempts
// times. Each retry re-fetches inside fn, so the compare-and-set sees fresh
// state. Any other error returns immediately.
func withStaleRetry(attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !domain.IsKind(err, domain.KindStaleState) {
			return err
		}
	}
	return err
}

// notify publishes a notification, logging instead of failing the workflow
func notify(ctx context.Context, n Notifier, notification messaging.Notification) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, notification); err != nil {
		log.Error().Err(err).
			Str("kind", notification.Kind).
			Str("reference_id", notification.ReferenceID.String()).
			Msg("failed to publish notification")
	}
}

// indexAudit indexes an audit document, logging instead of failing the workflow
func indexAudit(ctx context.Context, indexer AuditIndexer, doc *search.AuditDocument) {
	if indexer == nil {
		return
	}
	if err := indexer.IndexAuditEvent(ctx, doc); err != nil {
		log.Error().Err(err).
			Str("reference_type", doc.ReferenceType).
			Str("reference_id", doc.ReferenceID).
			Msg("failed to index audit event")
	}
}

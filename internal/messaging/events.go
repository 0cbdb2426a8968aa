package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Trip event names delivered by the transport service
const (
	TripEventDriverAcceptedPickup = "driver_accepted_pickup"
	TripEventDriverAcceptedReturn = "driver_accepted_return"
)

// TripEvent is an inbound message from the transport service reporting
// progress on a dispatched trip.
type TripEvent struct {
	TripRef    string    `json:"trip_ref"`
	Event      string    `json:"event"`
	LoanID     uuid.UUID `json:"loan_id"`
	Driver     string    `json:"driver"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Dispatch command kinds published to the transport service
const (
	DispatchLoanPickup = "loan_pickup"
	DispatchLoanReturn = "loan_return"
)

// DispatchCommand asks the transport service to schedule a trip for the
// named driver
type DispatchCommand struct {
	Kind           string    `json:"kind"`
	TripRef        string    `json:"trip_ref"`
	LoanID         uuid.UUID `json:"loan_id"`
	Driver         string    `json:"driver"`
	FromLocationID uuid.UUID `json:"from_location_id"`
	ToLocationID   uuid.UUID `json:"to_location_id"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Notification is an outbound message for the notifications queue
type Notification struct {
	Kind        string    `json:"kind"`
	LocationID  uuid.UUID `json:"location_id"`
	ReferenceID uuid.UUID `json:"reference_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// BusNotifier publishes notifications over the service bus
type BusNotifier struct {
	bus   *ServiceBus
	queue string
}

// NewBusNotifier creates a notifier bound to the notifications queue
func NewBusNotifier(bus *ServiceBus, queue string) *BusNotifier {
	return &BusNotifier{bus: bus, queue: queue}
}

// Notify publishes one notification
func (n *BusNotifier) Notify(ctx context.Context, notification Notification) error {
	if notification.SentAt.IsZero() {
		notification.SentAt = time.Now().UTC()
	}
	return n.bus.Publish(ctx, n.queue, notification)
}

// BusTripDispatcher publishes trip dispatch commands over the service bus
type BusTripDispatcher struct {
	bus   *ServiceBus
	queue string
}

// NewBusTripDispatcher creates a dispatcher bound to the dispatch queue
func NewBusTripDispatcher(bus *ServiceBus, queue string) *BusTripDispatcher {
	return &BusTripDispatcher{bus: bus, queue: queue}
}

// Dispatch publishes one trip dispatch command
func (d *BusTripDispatcher) Dispatch(ctx context.Context, cmd DispatchCommand) error {
	if cmd.RequestedAt.IsZero() {
		cmd.RequestedAt = time.Now().UTC()
	}
	return d.bus.Publish(ctx, d.queue, cmd)
}

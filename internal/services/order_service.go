package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/payments"
	"github.com/verdantfield/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventRefunded      = "order.refunded"

	orderIDPrefix  = "ord_"
	refundIDPrefix = "ref_"

	ordersCounterName  = "orders"
	orderNumberPattern = "VF-%04d-%06d"

	maxStatusNoteLength = 500

	defaultSweepAge   = 24 * time.Hour
	defaultSweepLimit = 50
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnknownStatus indicates a status outside the recognised set.
	ErrOrderUnknownStatus = errors.New("order: unknown status")
	// ErrInvalidRefundAmount indicates a refund amount outside (0, order total].
	ErrInvalidRefundAmount = errors.New("order: invalid refund amount")
	// ErrOrderUnavailable indicates the order backend cannot be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Pendings    repositories.PendingOrderRepository
	Counters    repositories.CounterRepository
	Gateway     payments.Gateway
	Events      OrderEventPublisher
	Notifier    NotificationDispatcher
	// PendingTTL is the age past which an unreconciled pending order is
	// considered stale by the sweep. Sweep commands may override it per call.
	PendingTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	NotePolicy  *bluemonday.Policy
}

type orderService struct {
	orders     repositories.OrderRepository
	pendings   repositories.PendingOrderRepository
	counters   repositories.CounterRepository
	gateway    payments.Gateway
	events     OrderEventPublisher
	notifier   NotificationDispatcher
	pendingTTL time.Duration
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	notePolicy *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pendings == nil {
		return nil, errors.New("order service: pending order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	policy := deps.NotePolicy
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	pendingTTL := deps.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = defaultSweepAge
	}

	return &orderService{
		orders:     deps.Orders,
		pendings:   deps.Pendings,
		counters:   deps.Counters,
		gateway:    deps.Gateway,
		events:     deps.Events,
		notifier:   deps.Notifier,
		pendingTTL: pendingTTL,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
		notePolicy: policy,
	}, nil
}

// HandlePaymentSucceeded converts the staged pending order for the intent
// into a durable order. Duplicate webhook deliveries and unknown intents are
// acknowledged without effect: the pending document is consumed exactly once
// inside the materializer transaction.
func (s *orderService) HandlePaymentSucceeded(ctx context.Context, intentID string) (MaterializeOutcome, error) {
	if s == nil || s.orders == nil {
		return MaterializeOutcome{}, ErrOrderUnavailable
	}

	intent := strings.TrimSpace(intentID)
	if intent == "" {
		return MaterializeOutcome{}, fmt.Errorf("%w: intent id is required", ErrOrderInvalidInput)
	}

	// Checking the pending document first avoids burning an order number on
	// redelivered webhooks. The transaction below re-reads it, so this is an
	// optimisation, not the idempotency guarantee.
	if _, err := s.pendings.FindByIntentID(ctx, intent); err != nil {
		if isRepoNotFound(err) {
			return s.duplicateDeliveryOutcome(ctx, intent)
		}
		return MaterializeOutcome{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return MaterializeOutcome{}, s.mapRepositoryError(err)
	}

	result, err := s.orders.Materialize(ctx, repositories.MaterializeRequest{
		IntentID:    intent,
		OrderID:     s.nextOrderID(),
		OrderNumber: orderNumber,
		Now:         now,
	})
	if err != nil {
		return MaterializeOutcome{}, s.mapRepositoryError(err)
	}
	if !result.Created {
		return s.duplicateDeliveryOutcome(ctx, intent)
	}

	order := result.Order
	s.logger(ctx, "order.materialized", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"intentId":    intent,
		"oversold":    len(order.Oversold) > 0,
	})

	s.publishEvent(ctx, OrderEventMessage{
		EventType:       orderEventCreated,
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentIntentID: intent,
		Total:           order.Total,
		OccurredAt:      now,
	})
	s.notify(ctx, Notification{
		UserID: order.UserID,
		Title:  domain.StatusNotificationTitle(domain.OrderStatusConfirmed),
		Body:   fmt.Sprintf("Order %s is confirmed. We'll let you know when your plants ship.", order.OrderNumber),
		Metadata: map[string]string{
			"orderId": order.ID,
			"status":  string(order.Status),
		},
	})

	return MaterializeOutcome{Order: order, Created: true}, nil
}

// duplicateDeliveryOutcome resolves a success webhook whose pending order is
// already gone. When the order exists the delivery was a retry; either way
// the webhook is acknowledged.
func (s *orderService) duplicateDeliveryOutcome(ctx context.Context, intentID string) (MaterializeOutcome, error) {
	order, err := s.orders.FindByIntentID(ctx, intentID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "order.webhook.unknown_intent", map[string]any{"intentId": intentID})
			return MaterializeOutcome{}, nil
		}
		return MaterializeOutcome{}, s.mapRepositoryError(err)
	}
	return MaterializeOutcome{Order: order, Created: false}, nil
}

// HandlePaymentFailed discards the staged pending order so an abandoned or
// declined intent never becomes an order. Missing pendings are fine: the
// failure may arrive after a sweep already cleaned up.
func (s *orderService) HandlePaymentFailed(ctx context.Context, intentID string) error {
	if s == nil || s.pendings == nil {
		return ErrOrderUnavailable
	}

	intent := strings.TrimSpace(intentID)
	if intent == "" {
		return fmt.Errorf("%w: intent id is required", ErrOrderInvalidInput)
	}

	if err := s.pendings.Delete(ctx, intent); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.pending.discarded", map[string]any{"intentId": intent, "reason": "payment_failed"})
	return nil
}

// GetOrder loads one order. When the query carries a user id the order must
// belong to that user; a mismatch reads the same as a missing order so the
// endpoint never confirms other customers' order ids.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if owner := strings.TrimSpace(query.UserID); owner != "" && order.UserID != owner {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns a cursor page of orders matching the filter.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	for _, status := range filter.Status {
		if !domain.IsKnownOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %s", ErrOrderUnknownStatus, status)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// SetStatus appends a status entry to the order's history. Any known status
// is accepted; the history records what operators actually did rather than
// enforcing a workflow.
func (s *orderService) SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.IsKnownOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderUnknownStatus, cmd.Status)
	}

	note := s.sanitizeNote(cmd.Note)
	if note == "" {
		note = domain.DefaultStatusNote(cmd.Status)
	}

	now := s.clock()
	order, err := s.orders.AppendStatus(ctx, repositories.StatusAppendRequest{
		OrderID: orderID,
		Status:  cmd.Status,
		Note:    note,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:       orderEventStatusChanged,
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentIntentID: order.PaymentIntentID,
		Total:           order.Total,
		OccurredAt:      now,
	})
	s.notify(ctx, Notification{
		UserID: order.UserID,
		Title:  domain.StatusNotificationTitle(order.Status),
		Body:   note,
		Metadata: map[string]string{
			"orderId": order.ID,
			"status":  string(order.Status),
		},
	})

	return order, nil
}

// BulkSetStatus applies one transition to many orders. Each order is updated
// independently; failures are collected rather than aborting the batch.
func (s *orderService) BulkSetStatus(ctx context.Context, cmd BulkSetStatusCommand) (BulkStatusResult, error) {
	if s == nil || s.orders == nil {
		return BulkStatusResult{}, ErrOrderUnavailable
	}
	if len(cmd.OrderIDs) == 0 {
		return BulkStatusResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	if !domain.IsKnownOrderStatus(cmd.Status) {
		return BulkStatusResult{}, fmt.Errorf("%w: %s", ErrOrderUnknownStatus, cmd.Status)
	}

	var result BulkStatusResult
	for _, orderID := range cmd.OrderIDs {
		if _, err := s.SetStatus(ctx, SetStatusCommand{OrderID: orderID, Status: cmd.Status, Note: cmd.Note}); err != nil {
			s.logger(ctx, "order.bulk_status.failed", map[string]any{
				"orderId": orderID,
				"status":  string(cmd.Status),
				"error":   err.Error(),
			})
			result.FailedIDs = append(result.FailedIDs, orderID)
			continue
		}
		result.UpdatedCount++
	}
	return result, nil
}

// Refund records a refund decision against the order: refund reference,
// amount, and a refunded history entry carrying the amount. Money movement
// happens in the gateway dashboard, never here. The amount is bounded by the
// order's original total; recording a second refund overwrites the first.
func (s *orderService) Refund(ctx context.Context, cmd RefundCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRefundAmount)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.Amount > order.Total {
		return Order{}, fmt.Errorf("%w: %d exceeds order total %d", ErrInvalidRefundAmount, cmd.Amount, order.Total)
	}

	refundID := strings.TrimSpace(cmd.RefundID)
	if refundID == "" {
		refundID = refundIDPrefix + s.newID()
	}

	note := s.sanitizeNote(cmd.Note)
	if note == "" {
		note = "Refund recorded"
	}
	note = fmt.Sprintf("%s ($%.2f)", note, float64(cmd.Amount)/100)

	now := s.clock()
	updated, err := s.orders.RecordRefund(ctx, repositories.RefundRecordRequest{
		OrderID:  orderID,
		RefundID: refundID,
		Amount:   cmd.Amount,
		Note:     note,
		Now:      now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:       orderEventRefunded,
		OrderID:         updated.ID,
		OrderNumber:     updated.OrderNumber,
		UserID:          updated.UserID,
		Status:          string(updated.Status),
		PaymentIntentID: updated.PaymentIntentID,
		Total:           updated.Total,
		OccurredAt:      now,
	})
	s.notify(ctx, Notification{
		UserID: updated.UserID,
		Title:  domain.StatusNotificationTitle(domain.OrderStatusRefunded),
		Body:   fmt.Sprintf("A refund of $%.2f was issued for order %s.", float64(cmd.Amount)/100, updated.OrderNumber),
		Metadata: map[string]string{
			"orderId":  updated.ID,
			"refundId": refundID,
		},
	})

	return updated, nil
}

// SweepPendingOrders reconciles pending orders older than the cutoff against
// the gateway. A pending order must never outlive its intent: succeeded
// intents are materialized (the lost-webhook case), open intents are
// cancelled and discarded, terminal intents are discarded.
func (s *orderService) SweepPendingOrders(ctx context.Context, cmd SweepCommand) (SweepResult, error) {
	if s == nil || s.pendings == nil {
		return SweepResult{}, ErrOrderUnavailable
	}
	if s.gateway == nil {
		return SweepResult{}, errors.New("order service: payment gateway is required for sweeps")
	}

	age := cmd.OlderThan
	if age <= 0 {
		age = s.pendingTTL
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	stale, err := s.pendings.ListStale(ctx, s.clock().Add(-age), limit)
	if err != nil {
		return SweepResult{}, s.mapRepositoryError(err)
	}

	result := SweepResult{Scanned: len(stale)}
	for _, pending := range stale {
		switch s.sweepOne(ctx, pending) {
		case sweepMaterialized:
			result.Materialized++
		case sweepDeleted:
			result.Deleted++
		default:
			result.Skipped++
		}
	}

	s.logger(ctx, "order.sweep.completed", map[string]any{
		"scanned":      result.Scanned,
		"materialized": result.Materialized,
		"deleted":      result.Deleted,
		"skipped":      result.Skipped,
	})
	return result, nil
}

type sweepAction int

const (
	sweepSkipped sweepAction = iota
	sweepMaterialized
	sweepDeleted
)

func (s *orderService) sweepOne(ctx context.Context, pending PendingOrder) sweepAction {
	details, err := s.gateway.LookupIntent(ctx, pending.IntentID)
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			// No intent to outlive; drop the pending payload.
			if s.discardPending(ctx, pending.IntentID, "intent_missing") {
				return sweepDeleted
			}
			return sweepSkipped
		}
		s.logger(ctx, "order.sweep.lookup_failed", map[string]any{
			"intentId": pending.IntentID,
			"error":    err.Error(),
		})
		return sweepSkipped
	}

	switch details.Status {
	case payments.IntentStatusSucceeded:
		// The webhook never arrived; recover the order now.
		outcome, err := s.HandlePaymentSucceeded(ctx, pending.IntentID)
		if err != nil {
			s.logger(ctx, "order.sweep.materialize_failed", map[string]any{
				"intentId": pending.IntentID,
				"error":    err.Error(),
			})
			return sweepSkipped
		}
		if outcome.Created {
			return sweepMaterialized
		}
		return sweepSkipped
	case payments.IntentStatusCanceled, payments.IntentStatusFailed:
		if s.discardPending(ctx, pending.IntentID, strings.ToLower(string(details.Status))) {
			return sweepDeleted
		}
		return sweepSkipped
	default:
		// Still open after the cutoff: the customer abandoned checkout.
		if err := s.gateway.CancelIntent(ctx, pending.IntentID); err != nil {
			s.logger(ctx, "order.sweep.cancel_failed", map[string]any{
				"intentId": pending.IntentID,
				"error":    err.Error(),
			})
			return sweepSkipped
		}
		if s.discardPending(ctx, pending.IntentID, "abandoned") {
			return sweepDeleted
		}
		return sweepSkipped
	}
}

func (s *orderService) discardPending(ctx context.Context, intentID, reason string) bool {
	if err := s.pendings.Delete(ctx, intentID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "order.sweep.delete_failed", map[string]any{
			"intentId": intentID,
			"error":    err.Error(),
		})
		return false
	}
	s.logger(ctx, "order.pending.discarded", map[string]any{"intentId": intentID, "reason": reason})
	return true
}

func (s *orderService) sanitizeNote(note string) string {
	cleaned := strings.TrimSpace(s.notePolicy.Sanitize(note))
	if len(cleaned) > maxStatusNoteLength {
		// Cut on a rune boundary so a multi-byte character straddling the
		// limit is dropped whole rather than left as a broken sequence.
		cut := maxStatusNoteLength
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = strings.TrimSpace(cleaned[:cut])
	}
	return cleaned
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, ordersCounterName, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(orderNumberPattern, now.Year(), seq), nil
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.EventType,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) notify(ctx context.Context, notification Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, notification); err != nil {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"userId": notification.UserID,
			"title":  notification.Title,
			"error":  err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

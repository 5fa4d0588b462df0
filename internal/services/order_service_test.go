package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/payments"
	"github.com/verdantfield/api/internal/repositories"
)

type stubOrderRepo struct {
	pendings       *stubPendingRepo
	orders         map[string]domain.Order
	materializeErr error
	findErr        error
	listPage       domain.CursorPage[domain.Order]
	listErr        error
	appendErr      error
}

func newStubOrderRepo(pendings *stubPendingRepo) *stubOrderRepo {
	return &stubOrderRepo{pendings: pendings, orders: map[string]domain.Order{}}
}

func (s *stubOrderRepo) Materialize(_ context.Context, req repositories.MaterializeRequest) (repositories.MaterializeResult, error) {
	if s.materializeErr != nil {
		return repositories.MaterializeResult{}, s.materializeErr
	}
	pending, ok := s.pendings.byIntent[req.IntentID]
	if !ok {
		return repositories.MaterializeResult{}, nil
	}
	delete(s.pendings.byIntent, req.IntentID)

	order := domain.Order{
		ID:              req.OrderID,
		OrderNumber:     req.OrderNumber,
		UserID:          pending.UserID,
		UserEmail:       pending.UserEmail,
		Items:           pending.Items,
		Subtotal:        pending.Subtotal,
		Tax:             pending.Tax,
		DeliveryFee:     pending.DeliveryFee,
		Total:           pending.Total,
		ShippingAddress: pending.ShippingAddress,
		Status:          domain.OrderStatusConfirmed,
		StatusHistory: []domain.StatusEntry{{
			Status:    domain.OrderStatusConfirmed,
			Timestamp: req.Now,
			Note:      domain.DefaultStatusNote(domain.OrderStatusConfirmed),
		}},
		PaymentIntentID: req.IntentID,
		CreatedAt:       req.Now,
		UpdatedAt:       req.Now,
	}
	s.orders[order.ID] = order
	return repositories.MaterializeResult{Order: order, Created: true}, nil
}

func (s *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if s.findErr != nil {
		return domain.Order{}, s.findErr
	}
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepo) FindByIntentID(_ context.Context, intentID string) (domain.Order, error) {
	for _, order := range s.orders {
		if order.PaymentIntentID == intentID {
			return order, nil
		}
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (s *stubOrderRepo) List(_ context.Context, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listErr != nil {
		return domain.CursorPage[domain.Order]{}, s.listErr
	}
	return s.listPage, nil
}

func (s *stubOrderRepo) AppendStatus(_ context.Context, req repositories.StatusAppendRequest) (domain.Order, error) {
	if s.appendErr != nil {
		return domain.Order{}, s.appendErr
	}
	order, ok := s.orders[req.OrderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	order.Status = req.Status
	order.StatusHistory = append(order.StatusHistory, domain.StatusEntry{
		Status:    req.Status,
		Timestamp: req.Now,
		Note:      req.Note,
	})
	order.UpdatedAt = req.Now
	s.orders[req.OrderID] = order
	return order, nil
}

func (s *stubOrderRepo) RecordRefund(_ context.Context, req repositories.RefundRecordRequest) (domain.Order, error) {
	order, ok := s.orders[req.OrderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	order.Status = domain.OrderStatusRefunded
	order.RefundID = &req.RefundID
	order.RefundAmount = &req.Amount
	order.StatusHistory = append(order.StatusHistory, domain.StatusEntry{
		Status:    domain.OrderStatusRefunded,
		Timestamp: req.Now,
		Note:      req.Note,
	})
	order.UpdatedAt = req.Now
	s.orders[req.OrderID] = order
	return order, nil
}

type stubCounterRepo struct {
	next    int64
	nextErr error
	calls   int
}

func (s *stubCounterRepo) Next(_ context.Context, _ string, step int64) (int64, error) {
	if s.nextErr != nil {
		return 0, s.nextErr
	}
	s.calls++
	s.next += step
	return s.next, nil
}

type capturingPublisher struct {
	events []OrderEventMessage
	err    error
}

func (p *capturingPublisher) PublishOrderEvent(_ context.Context, event OrderEventMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("msg_%d", len(p.events)), nil
}

type capturingNotifier struct {
	sent []Notification
	err  error
}

func (n *capturingNotifier) Notify(_ context.Context, notification Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

type orderFixture struct {
	svc      OrderService
	orders   *stubOrderRepo
	pendings *stubPendingRepo
	counters *stubCounterRepo
	gateway  *stubGateway
	events   *capturingPublisher
	notifier *capturingNotifier
}

var orderTestNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	pendings := newStubPendingRepo()
	orders := newStubOrderRepo(pendings)
	counters := &stubCounterRepo{}
	gateway := &stubGateway{lookupByID: map[string]payments.IntentDetails{}}
	events := &capturingPublisher{}
	notifier := &capturingNotifier{}

	nextID := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Pendings: pendings,
		Counters: counters,
		Gateway:  gateway,
		Events:   events,
		Notifier: notifier,
		Clock:    func() time.Time { return orderTestNow },
		IDGenerator: func() string {
			nextID++
			return fmt.Sprintf("01TEST%08d", nextID)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return &orderFixture{
		svc:      svc,
		orders:   orders,
		pendings: pendings,
		counters: counters,
		gateway:  gateway,
		events:   events,
		notifier: notifier,
	}
}

func stagePending(f *orderFixture, intentID string) domain.PendingOrder {
	pending := domain.PendingOrder{
		IntentID:  intentID,
		UserID:    "user_1",
		UserEmail: "fern@example.com",
		Items: []domain.LineItem{
			{ProductID: "plant_monstera", ProductName: "Monstera Deliciosa", SizeID: "size_m", SizeLabel: "Medium", UnitPrice: 4599, Quantity: 3},
			{ProductID: "plant_fiddle", ProductName: "Fiddle Leaf Fig", SizeID: "size_s", SizeLabel: "Small", UnitPrice: 3600, Quantity: 2},
		},
		Subtotal: 25998,
		Tax:      2080,
		Total:    28078,
		ShippingAddress: domain.Address{
			Recipient:  "Fern Whitaker",
			Line1:      "88 Orchard St",
			City:       "New York",
			State:      "NY",
			PostalCode: "10002",
			Country:    "US",
		},
		CreatedAt: orderTestNow.Add(-time.Hour),
	}
	f.pendings.byIntent[intentID] = pending
	return pending
}

func TestHandlePaymentSucceededMaterializesOrder(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")

	outcome, err := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("HandlePaymentSucceeded returned error: %v", err)
	}
	if !outcome.Created {
		t.Fatal("expected a new order to be created")
	}

	order := outcome.Order
	if order.OrderNumber != "VF-2026-000001" {
		t.Fatalf("expected order number VF-2026-000001, got %q", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("expected ord_ prefixed id, got %q", order.ID)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed status, got %q", order.Status)
	}
	if order.Total != 28078 || order.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected order payload: %+v", order)
	}

	if _, ok := f.pendings.byIntent["pi_123"]; ok {
		t.Fatal("expected pending order to be consumed")
	}

	if len(f.events.events) != 1 || f.events.events[0].EventType != orderEventCreated {
		t.Fatalf("expected one order.created event, got %+v", f.events.events)
	}
	if f.events.events[0].Total != 28078 {
		t.Fatalf("unexpected event total: %d", f.events.events[0].Total)
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.sent))
	}
	if f.notifier.sent[0].Title != "Order confirmed" || !strings.Contains(f.notifier.sent[0].Body, "VF-2026-000001") {
		t.Fatalf("unexpected notification: %+v", f.notifier.sent[0])
	}
}

func TestHandlePaymentSucceededDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")

	first, err := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}

	second, err := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("second delivery returned error: %v", err)
	}
	if second.Created {
		t.Fatal("expected duplicate delivery to create nothing")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("expected the existing order back, got %q", second.Order.ID)
	}

	if f.counters.calls != 1 {
		t.Fatalf("expected one order number allocation, got %d", f.counters.calls)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected no event for the duplicate, got %d", len(f.events.events))
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected no notification for the duplicate, got %d", len(f.notifier.sent))
	}
}

func TestHandlePaymentSucceededUnknownIntent(t *testing.T) {
	f := newOrderFixture(t)

	outcome, err := f.svc.HandlePaymentSucceeded(context.Background(), "pi_unknown")
	if err != nil {
		t.Fatalf("expected unknown intent to be acknowledged, got %v", err)
	}
	if outcome.Created || outcome.Order.ID != "" {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
	if f.counters.calls != 0 {
		t.Fatal("expected no order number allocation for an unknown intent")
	}
}

func TestHandlePaymentFailedDiscardsPending(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")

	if err := f.svc.HandlePaymentFailed(context.Background(), "pi_123"); err != nil {
		t.Fatalf("HandlePaymentFailed returned error: %v", err)
	}
	if _, ok := f.pendings.byIntent["pi_123"]; ok {
		t.Fatal("expected pending order to be deleted")
	}

	// A failure for an already-cleaned intent is acknowledged.
	if err := f.svc.HandlePaymentFailed(context.Background(), "pi_123"); err != nil {
		t.Fatalf("repeat HandlePaymentFailed returned error: %v", err)
	}
}

func TestGetOrderScopesToOwner(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, err := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("HandlePaymentSucceeded returned error: %v", err)
	}
	orderID := outcome.Order.ID

	if _, err := f.svc.GetOrder(context.Background(), GetOrderQuery{OrderID: orderID, UserID: "user_1"}); err != nil {
		t.Fatalf("owner read returned error: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), GetOrderQuery{OrderID: orderID}); err != nil {
		t.Fatalf("admin read returned error: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), GetOrderQuery{OrderID: orderID, UserID: "user_2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for another user's order, got %v", err)
	}
}

func TestListOrdersRejectsUnknownStatusFilter(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.ListOrders(context.Background(), OrderListFilter{Status: []domain.OrderStatus{"shipped"}})
	if !errors.Is(err, ErrOrderUnknownStatus) {
		t.Fatalf("expected ErrOrderUnknownStatus, got %v", err)
	}
}

func TestSetStatusAppendsHistory(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")
	f.events.events = nil
	f.notifier.sent = nil

	order, err := f.svc.SetStatus(context.Background(), SetStatusCommand{
		OrderID: outcome.Order.ID,
		Status:  domain.OrderStatusPreparing,
		Note:    "Potting the monstera",
	})
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPreparing {
		t.Fatalf("expected preparing status, got %q", order.Status)
	}
	if len(order.StatusHistory) != 2 {
		t.Fatalf("expected history to grow to 2 entries, got %d", len(order.StatusHistory))
	}
	last := order.StatusHistory[len(order.StatusHistory)-1]
	if last.Status != domain.OrderStatusPreparing || last.Note != "Potting the monstera" {
		t.Fatalf("unexpected history entry: %+v", last)
	}

	if len(f.events.events) != 1 || f.events.events[0].EventType != orderEventStatusChanged {
		t.Fatalf("expected one order.status.changed event, got %+v", f.events.events)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Title != "Your plants are being prepared" {
		t.Fatalf("unexpected notification: %+v", f.notifier.sent)
	}
}

func TestSetStatusDefaultsAndSanitizesNotes(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")

	order, err := f.svc.SetStatus(context.Background(), SetStatusCommand{
		OrderID: outcome.Order.ID,
		Status:  domain.OrderStatusInTransit,
	})
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}
	if note := order.StatusHistory[len(order.StatusHistory)-1].Note; note != "Order is on its way" {
		t.Fatalf("expected default note, got %q", note)
	}

	order, err = f.svc.SetStatus(context.Background(), SetStatusCommand{
		OrderID: outcome.Order.ID,
		Status:  domain.OrderStatusDelivered,
		Note:    `Left at the door <script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}
	note := order.StatusHistory[len(order.StatusHistory)-1].Note
	if strings.Contains(note, "<script>") {
		t.Fatalf("expected markup to be stripped, got %q", note)
	}
	if !strings.Contains(note, "Left at the door") {
		t.Fatalf("expected note text to survive sanitization, got %q", note)
	}
}

func TestSetStatusTruncatesNoteOnRuneBoundary(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")

	// 497 ASCII bytes followed by two-byte runes puts the second rune at
	// bytes 499-500, so the 500-byte cap lands in the middle of it.
	long := strings.Repeat("a", 497) + strings.Repeat("é", 10)
	order, err := f.svc.SetStatus(context.Background(), SetStatusCommand{
		OrderID: outcome.Order.ID,
		Status:  domain.OrderStatusPreparing,
		Note:    long,
	})
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}

	note := order.StatusHistory[len(order.StatusHistory)-1].Note
	if !utf8.ValidString(note) {
		t.Fatalf("expected truncated note to remain valid UTF-8, got %q", note)
	}
	if len(note) > 500 {
		t.Fatalf("expected note capped at 500 bytes, got %d", len(note))
	}
	if want := strings.Repeat("a", 497) + "é"; note != want {
		t.Fatalf("expected the straddling rune dropped whole, got %q", note)
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: "ord_x", Status: "packed"})
	if !errors.Is(err, ErrOrderUnknownStatus) {
		t.Fatalf("expected ErrOrderUnknownStatus, got %v", err)
	}
}

func TestBulkSetStatusIsolatesFailures(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_1")
	first, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_1")
	stagePending(f, "pi_2")
	second, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_2")

	result, err := f.svc.BulkSetStatus(context.Background(), BulkSetStatusCommand{
		OrderIDs: []string{first.Order.ID, "ord_missing", second.Order.ID},
		Status:   domain.OrderStatusPreparing,
	})
	if err != nil {
		t.Fatalf("BulkSetStatus returned error: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("expected 2 updates, got %d", result.UpdatedCount)
	}
	if len(result.FailedIDs) != 1 || result.FailedIDs[0] != "ord_missing" {
		t.Fatalf("expected ord_missing to fail, got %v", result.FailedIDs)
	}
}

func TestRefundRecordsDecision(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")
	f.events.events = nil

	order, err := f.svc.Refund(context.Background(), RefundCommand{
		OrderID:  outcome.Order.ID,
		Amount:   28078,
		RefundID: "re_stripe_1",
		Note:     "Damaged in transit",
	})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}

	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded status, got %q", order.Status)
	}
	if order.RefundID == nil || *order.RefundID != "re_stripe_1" {
		t.Fatalf("expected refund id re_stripe_1, got %v", order.RefundID)
	}
	if order.RefundAmount == nil || *order.RefundAmount != 28078 {
		t.Fatalf("expected refund amount 28078, got %v", order.RefundAmount)
	}
	last := order.StatusHistory[len(order.StatusHistory)-1]
	if !strings.Contains(last.Note, "Damaged in transit") || !strings.Contains(last.Note, "$280.78") {
		t.Fatalf("expected note with reason and amount, got %q", last.Note)
	}

	if len(f.events.events) != 1 || f.events.events[0].EventType != orderEventRefunded {
		t.Fatalf("expected one order.refunded event, got %+v", f.events.events)
	}
}

func TestRefundAfterDeliveryKeepsHistoryOrder(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")

	if _, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: outcome.Order.ID, Status: domain.OrderStatusDelivered}); err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}
	order, err := f.svc.Refund(context.Background(), RefundCommand{OrderID: outcome.Order.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}

	statuses := make([]domain.OrderStatus, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		statuses = append(statuses, entry.Status)
	}
	want := []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusDelivered, domain.OrderStatusRefunded}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(statuses))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected history %v, got %v", want, statuses)
		}
	}
	if order.RefundID == nil || !strings.HasPrefix(*order.RefundID, refundIDPrefix) {
		t.Fatalf("expected generated refund id, got %v", order.RefundID)
	}
}

func TestRefundValidatesAmount(t *testing.T) {
	f := newOrderFixture(t)
	stagePending(f, "pi_123")
	outcome, _ := f.svc.HandlePaymentSucceeded(context.Background(), "pi_123")

	cases := []struct {
		name   string
		amount int64
	}{
		{name: "zero", amount: 0},
		{name: "negative", amount: -100},
		{name: "exceeds total", amount: 28079},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Refund(context.Background(), RefundCommand{OrderID: outcome.Order.ID, Amount: tc.amount})
			if !errors.Is(err, ErrInvalidRefundAmount) {
				t.Fatalf("expected ErrInvalidRefundAmount, got %v", err)
			}
		})
	}
}

func TestSweepPendingOrders(t *testing.T) {
	f := newOrderFixture(t)

	succeeded := stagePending(f, "pi_succeeded")
	abandoned := stagePending(f, "pi_abandoned")
	canceled := stagePending(f, "pi_canceled")
	broken := stagePending(f, "pi_broken")
	vanished := stagePending(f, "pi_vanished")
	f.pendings.stale = []domain.PendingOrder{succeeded, abandoned, canceled, broken, vanished}

	f.gateway.lookupByID["pi_succeeded"] = payments.IntentDetails{ID: "pi_succeeded", Status: payments.IntentStatusSucceeded}
	f.gateway.lookupByID["pi_abandoned"] = payments.IntentDetails{ID: "pi_abandoned", Status: payments.IntentStatusPending}
	f.gateway.lookupByID["pi_canceled"] = payments.IntentDetails{ID: "pi_canceled", Status: payments.IntentStatusCanceled}
	f.gateway.lookupByID["pi_broken"] = payments.IntentDetails{ID: "pi_broken", Status: payments.IntentStatusPending}
	// pi_vanished has no gateway record at all.

	result, err := f.svc.SweepPendingOrders(context.Background(), SweepCommand{OlderThan: time.Hour})
	if err != nil {
		t.Fatalf("SweepPendingOrders returned error: %v", err)
	}

	if result.Scanned != 5 {
		t.Fatalf("expected 5 scanned, got %d", result.Scanned)
	}
	if result.Materialized != 1 {
		t.Fatalf("expected 1 materialized, got %d", result.Materialized)
	}
	// abandoned, broken (cancel succeeds in this fixture), canceled, vanished
	if result.Deleted != 4 {
		t.Fatalf("expected 4 deleted, got %d", result.Deleted)
	}
	if result.Skipped != 0 {
		t.Fatalf("expected 0 skipped, got %d", result.Skipped)
	}

	if order, err := f.orders.FindByIntentID(context.Background(), "pi_succeeded"); err != nil || order.OrderNumber == "" {
		t.Fatalf("expected lost-webhook intent to be materialized, got %+v err=%v", order, err)
	}
	if len(f.gateway.cancelled) != 2 {
		t.Fatalf("expected two open intents to be cancelled, got %v", f.gateway.cancelled)
	}
	if len(f.pendings.byIntent) != 0 {
		t.Fatalf("expected all pendings consumed, remaining %v", f.pendings.byIntent)
	}
}

func TestSweepUsesConfiguredPendingTTL(t *testing.T) {
	f := newOrderFixture(t)

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     f.orders,
		Pendings:   f.pendings,
		Counters:   f.counters,
		Gateway:    f.gateway,
		PendingTTL: 2 * time.Hour,
		Clock:      func() time.Time { return orderTestNow },
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	if _, err := svc.SweepPendingOrders(context.Background(), SweepCommand{}); err != nil {
		t.Fatalf("SweepPendingOrders returned error: %v", err)
	}
	if want := orderTestNow.Add(-2 * time.Hour); !f.pendings.staleCutoff.Equal(want) {
		t.Fatalf("expected stale cutoff %v from the configured ttl, got %v", want, f.pendings.staleCutoff)
	}

	// An explicit cutoff in the command overrides the configured ttl.
	if _, err := svc.SweepPendingOrders(context.Background(), SweepCommand{OlderThan: 30 * time.Minute}); err != nil {
		t.Fatalf("SweepPendingOrders returned error: %v", err)
	}
	if want := orderTestNow.Add(-30 * time.Minute); !f.pendings.staleCutoff.Equal(want) {
		t.Fatalf("expected stale cutoff %v from the command, got %v", want, f.pendings.staleCutoff)
	}
}

func TestSweepSkipsOnLookupFailure(t *testing.T) {
	f := newOrderFixture(t)
	pending := stagePending(f, "pi_flaky")
	f.pendings.stale = []domain.PendingOrder{pending}
	f.gateway.lookupErr = errors.New("stripe: timeout")

	result, err := f.svc.SweepPendingOrders(context.Background(), SweepCommand{})
	if err != nil {
		t.Fatalf("SweepPendingOrders returned error: %v", err)
	}
	if result.Skipped != 1 || result.Deleted != 0 || result.Materialized != 0 {
		t.Fatalf("expected the flaky intent to be skipped, got %+v", result)
	}
	if _, ok := f.pendings.byIntent["pi_flaky"]; !ok {
		t.Fatal("expected pending order to be retained for the next sweep")
	}
}

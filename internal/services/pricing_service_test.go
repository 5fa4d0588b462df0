package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/repositories"
)

type stubProductRepo struct {
	products map[string]domain.Product
	err      error
}

func (s *stubProductRepo) FindByID(_ context.Context, id string) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, stubRepoError{notFound: true}
	}
	return product, nil
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = stubRepoError{}

func testCatalog() *stubProductRepo {
	return &stubProductRepo{products: map[string]domain.Product{
		"plant_monstera": {
			ID:     "plant_monstera",
			Name:   "Monstera Deliciosa",
			Image:  "https://cdn.example.com/monstera.jpg",
			Active: true,
			Sizes: []domain.ProductSize{
				{ID: "size_m", Label: "Medium", Price: 4599, Stock: 12},
				{ID: "size_l", Label: "Large", Price: 8400, Stock: 3},
			},
		},
		"plant_fiddle": {
			ID:     "plant_fiddle",
			Name:   "Fiddle Leaf Fig",
			Active: true,
			Sizes: []domain.ProductSize{
				{ID: "size_s", Label: "Small", Price: 3600, Stock: 8},
			},
		},
		"palm-1": {
			ID:     "palm-1",
			Name:   "Areca Palm",
			Active: true,
			Sizes: []domain.ProductSize{
				{ID: "md", Label: "Medium", Price: 5200, Stock: 1},
			},
		},
		"plant_retired": {
			ID:     "plant_retired",
			Name:   "Retired Cactus",
			Active: false,
			Sizes: []domain.ProductSize{
				{ID: "size_s", Label: "Small", Price: 1500, Stock: 4},
			},
		},
	}}
}

func newTestPricingService(t *testing.T, repo repositories.ProductRepository, deliveryFee int64) *PricingService {
	t.Helper()
	svc, err := NewPricingService(PricingServiceDeps{Products: repo, DeliveryFee: deliveryFee})
	if err != nil {
		t.Fatalf("NewPricingService returned error: %v", err)
	}
	return svc
}

func TestNewPricingServiceRequiresProducts(t *testing.T) {
	if _, err := NewPricingService(PricingServiceDeps{}); err == nil {
		t.Fatal("expected error when product repository is missing")
	}
	if _, err := NewPricingService(PricingServiceDeps{Products: testCatalog(), DeliveryFee: -1}); err == nil {
		t.Fatal("expected error for negative delivery fee")
	}
}

func TestPriceCartComputesBreakdown(t *testing.T) {
	// Three monstera mediums plus two fiddle smalls shipped to New York:
	// subtotal 25998, tax at 8% is 2080 (rounded from 2079.84), no delivery fee.
	svc := newTestPricingService(t, testCatalog(), 0)

	result, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines: []CartLine{
			{ProductID: "plant_monstera", SizeID: "size_m", Quantity: 3},
			{ProductID: "plant_fiddle", SizeID: "size_s", Quantity: 2},
		},
		ShippingState: "NY",
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}

	if result.Subtotal != 25998 {
		t.Fatalf("expected subtotal 25998, got %d", result.Subtotal)
	}
	if result.Tax != 2080 {
		t.Fatalf("expected tax 2080, got %d", result.Tax)
	}
	if result.DeliveryFee != 0 {
		t.Fatalf("expected delivery fee 0, got %d", result.DeliveryFee)
	}
	if result.Total != 28078 {
		t.Fatalf("expected total 28078, got %d", result.Total)
	}

	if len(result.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(result.Items))
	}
	first := result.Items[0]
	if first.ProductName != "Monstera Deliciosa" || first.SizeLabel != "Medium" || first.UnitPrice != 4599 || first.Quantity != 3 {
		t.Fatalf("unexpected first line item snapshot: %+v", first)
	}
	if first.ProductImage != "https://cdn.example.com/monstera.jpg" {
		t.Fatalf("expected product image in snapshot, got %q", first.ProductImage)
	}
}

func TestPriceCartAddsDeliveryFee(t *testing.T) {
	svc := newTestPricingService(t, testCatalog(), 799)

	result, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines:         []CartLine{{ProductID: "plant_fiddle", SizeID: "size_s", Quantity: 1}},
		ShippingState: "NY",
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	if result.DeliveryFee != 799 {
		t.Fatalf("expected delivery fee 799, got %d", result.DeliveryFee)
	}
	if want := result.Subtotal + result.Tax + 799; result.Total != want {
		t.Fatalf("expected total %d, got %d", want, result.Total)
	}
}

func TestPriceCartWaivesDeliveryFeeOverThreshold(t *testing.T) {
	svc, err := NewPricingService(PricingServiceDeps{
		Products:              testCatalog(),
		DeliveryFee:           799,
		FreeDeliveryThreshold: 7500,
	})
	if err != nil {
		t.Fatalf("NewPricingService returned error: %v", err)
	}

	// One fiddle small: subtotal 3600 stays under the threshold.
	below, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines:         []CartLine{{ProductID: "plant_fiddle", SizeID: "size_s", Quantity: 1}},
		ShippingState: "NY",
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	if below.DeliveryFee != 799 {
		t.Fatalf("expected fee 799 below threshold, got %d", below.DeliveryFee)
	}

	// One monstera large: subtotal 8400 clears the threshold.
	over, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines:         []CartLine{{ProductID: "plant_monstera", SizeID: "size_l", Quantity: 1}},
		ShippingState: "NY",
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	if over.DeliveryFee != 0 {
		t.Fatalf("expected fee waived over threshold, got %d", over.DeliveryFee)
	}
	if want := over.Subtotal + over.Tax; over.Total != want {
		t.Fatalf("expected total %d without fee, got %d", want, over.Total)
	}

	// A zero threshold disables the waiver entirely.
	noWaiver := newTestPricingService(t, testCatalog(), 799)
	kept, err := noWaiver.PriceCart(context.Background(), PriceCartCommand{
		Lines:         []CartLine{{ProductID: "plant_monstera", SizeID: "size_l", Quantity: 1}},
		ShippingState: "NY",
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	if kept.DeliveryFee != 799 {
		t.Fatalf("expected fee kept with zero threshold, got %d", kept.DeliveryFee)
	}
}

func TestNewPricingServiceRejectsNegativeThreshold(t *testing.T) {
	if _, err := NewPricingService(PricingServiceDeps{Products: testCatalog(), FreeDeliveryThreshold: -1}); err == nil {
		t.Fatal("expected error for negative free delivery threshold")
	}
}

func TestPriceCartTaxFallsBackForUnknownState(t *testing.T) {
	svc := newTestPricingService(t, testCatalog(), 0)

	cases := []struct {
		state   string
		wantTax int64
	}{
		{state: "NY", wantTax: 288},  // 3600 * 0.08 = 288
		{state: "ca", wantTax: 261},  // lowercase accepted, 3600 * 0.0725 = 261
		{state: "ZZ", wantTax: 216},  // unknown state uses the default 6%
		{state: "", wantTax: 216},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("state_%q", tc.state), func(t *testing.T) {
			result, err := svc.PriceCart(context.Background(), PriceCartCommand{
				Lines:         []CartLine{{ProductID: "plant_fiddle", SizeID: "size_s", Quantity: 1}},
				ShippingState: tc.state,
			})
			if err != nil {
				t.Fatalf("PriceCart returned error: %v", err)
			}
			if result.Tax != tc.wantTax {
				t.Fatalf("expected tax %d for state %q, got %d", tc.wantTax, tc.state, result.Tax)
			}
		})
	}
}

func TestPriceCartRejectsInvalidInput(t *testing.T) {
	svc := newTestPricingService(t, testCatalog(), 0)

	cases := []struct {
		name  string
		lines []CartLine
	}{
		{name: "empty cart", lines: nil},
		{name: "missing product id", lines: []CartLine{{SizeID: "size_m", Quantity: 1}}},
		{name: "missing size id", lines: []CartLine{{ProductID: "plant_monstera", Quantity: 1}}},
		{name: "zero quantity", lines: []CartLine{{ProductID: "plant_monstera", SizeID: "size_m", Quantity: 0}}},
		{name: "negative quantity", lines: []CartLine{{ProductID: "plant_monstera", SizeID: "size_m", Quantity: -2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PriceCart(context.Background(), PriceCartCommand{Lines: tc.lines, ShippingState: "NY"})
			if !errors.Is(err, ErrPricingInvalidInput) {
				t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
			}
		})
	}
}

func TestPriceCartLineErrors(t *testing.T) {
	svc := newTestPricingService(t, testCatalog(), 0)

	cases := []struct {
		name     string
		line     CartLine
		wantCode PricingErrorCode
	}{
		{
			name:     "unknown product",
			line:     CartLine{ProductID: "plant_missing", SizeID: "size_m", Quantity: 1},
			wantCode: PricingErrorProductNotFound,
		},
		{
			name:     "inactive product",
			line:     CartLine{ProductID: "plant_retired", SizeID: "size_s", Quantity: 1},
			wantCode: PricingErrorProductInactive,
		},
		{
			name:     "unknown size",
			line:     CartLine{ProductID: "plant_monstera", SizeID: "size_xl", Quantity: 1},
			wantCode: PricingErrorSizeNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PriceCart(context.Background(), PriceCartCommand{
				Lines:         []CartLine{tc.line},
				ShippingState: "NY",
			})
			var pricingErr *PricingError
			if !errors.As(err, &pricingErr) {
				t.Fatalf("expected PricingError, got %v", err)
			}
			if pricingErr.Code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, pricingErr.Code)
			}
			if pricingErr.ProductID != tc.line.ProductID {
				t.Fatalf("expected product id %s on error, got %s", tc.line.ProductID, pricingErr.ProductID)
			}
		})
	}
}

func TestPriceCartInsufficientStockCarriesDetail(t *testing.T) {
	svc := newTestPricingService(t, testCatalog(), 0)

	_, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines:         []CartLine{{ProductID: "palm-1", SizeID: "md", Quantity: 3}},
		ShippingState: "NY",
	})

	var pricingErr *PricingError
	if !errors.As(err, &pricingErr) {
		t.Fatalf("expected PricingError, got %v", err)
	}
	if pricingErr.Code != PricingErrorInsufficientStock {
		t.Fatalf("expected insufficient stock code, got %s", pricingErr.Code)
	}
	if pricingErr.ProductName != "Areca Palm" || pricingErr.SizeLabel != "Medium" || pricingErr.Available != 1 {
		t.Fatalf("expected detail for Areca Palm Medium with 1 available, got %+v", pricingErr)
	}
}

func TestPriceCartCatalogFailure(t *testing.T) {
	repo := &stubProductRepo{err: stubRepoError{unavailable: true}}
	svc := newTestPricingService(t, repo, 0)

	_, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines:         []CartLine{{ProductID: "plant_monstera", SizeID: "size_m", Quantity: 1}},
		ShippingState: "NY",
	})
	if !errors.Is(err, ErrPricingUnavailable) {
		t.Fatalf("expected ErrPricingUnavailable, got %v", err)
	}
}

func TestPriceCartReadsProductOncePerID(t *testing.T) {
	base := testCatalog()
	counting := &countingProductRepo{inner: base, calls: map[string]int{}}
	svc := newTestPricingService(t, counting, 0)

	_, err := svc.PriceCart(context.Background(), PriceCartCommand{
		Lines: []CartLine{
			{ProductID: "plant_monstera", SizeID: "size_m", Quantity: 1},
			{ProductID: "plant_monstera", SizeID: "size_l", Quantity: 1},
		},
		ShippingState: "NY",
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	if counting.calls["plant_monstera"] != 1 {
		t.Fatalf("expected one catalog read for plant_monstera, got %d", counting.calls["plant_monstera"])
	}
}

type countingProductRepo struct {
	inner repositories.ProductRepository
	calls map[string]int
}

func (c *countingProductRepo) FindByID(ctx context.Context, id string) (domain.Product, error) {
	c.calls[id]++
	return c.inner.FindByID(ctx, id)
}

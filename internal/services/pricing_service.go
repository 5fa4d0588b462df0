package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals malformed checkout lines (missing ids, non-positive quantity).
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingUnavailable indicates the catalog could not be read.
	ErrPricingUnavailable = errors.New("pricing: unavailable")
)

// PricingErrorCode identifies a specific per-line validation failure.
type PricingErrorCode string

const (
	PricingErrorProductNotFound   PricingErrorCode = "product_not_found"
	PricingErrorProductInactive   PricingErrorCode = "product_inactive"
	PricingErrorSizeNotFound      PricingErrorCode = "size_not_found"
	PricingErrorInsufficientStock PricingErrorCode = "insufficient_stock"
)

// PricingError carries enough detail for the client to render an actionable
// message: which product, which size, and for stock failures how many units
// remain.
type PricingError struct {
	Code        PricingErrorCode
	ProductID   string
	SizeID      string
	ProductName string
	SizeLabel   string
	Available   int
}

func (e *PricingError) Error() string {
	switch e.Code {
	case PricingErrorProductNotFound:
		return fmt.Sprintf("pricing: product %s not found", e.ProductID)
	case PricingErrorProductInactive:
		return fmt.Sprintf("pricing: product %s is not available", e.ProductID)
	case PricingErrorSizeNotFound:
		return fmt.Sprintf("pricing: size %s of product %s not found", e.SizeID, e.ProductID)
	case PricingErrorInsufficientStock:
		return fmt.Sprintf("pricing: insufficient stock for %s (%s): %d available", e.ProductName, e.SizeLabel, e.Available)
	default:
		return fmt.Sprintf("pricing: validation failed for product %s", e.ProductID)
	}
}

// Sales tax rates by shipping state. Unknown states fall back to the default.
var stateTaxRates = map[string]float64{
	"NY": 0.08,
	"CA": 0.0725,
	"NJ": 0.06625,
	"PA": 0.06,
	"FL": 0.06,
	"TX": 0.0625,
	"IL": 0.0625,
	"WA": 0.065,
}

const defaultTaxRate = 0.06

// PriceCartCommand carries the untrusted lines plus the shipping state used
// for the tax lookup.
type PriceCartCommand struct {
	Lines         []CartLine
	ShippingState string
}

// PriceCartResult is the server-derived snapshot and charge breakdown, cents
// throughout.
type PriceCartResult struct {
	Items       []LineItem
	Subtotal    int64
	Tax         int64
	DeliveryFee int64
	Total       int64
}

// PricingServiceDeps wires the catalog dependency and the pricing knobs.
type PricingServiceDeps struct {
	Products    repositories.ProductRepository
	DeliveryFee int64
	// FreeDeliveryThreshold waives the delivery fee once the subtotal
	// reaches it, in cents. Zero disables the waiver.
	FreeDeliveryThreshold int64
	TaxRates              map[string]float64
	DefaultTaxRate        float64
	Logger                func(ctx context.Context, event string, fields map[string]any)
}

// PricingService recomputes cart totals from authoritative product records.
// Client-submitted prices never enter any computation here.
type PricingService struct {
	products         repositories.ProductRepository
	deliveryFee      int64
	freeDeliveryOver int64
	taxRates         map[string]float64
	defaultTaxRate   float64
	logger           func(context.Context, string, map[string]any)
}

// NewPricingService constructs the validator enforcing dependency validation.
func NewPricingService(deps PricingServiceDeps) (*PricingService, error) {
	if deps.Products == nil {
		return nil, errors.New("pricing service: product repository is required")
	}
	if deps.DeliveryFee < 0 {
		return nil, errors.New("pricing service: delivery fee must be non-negative")
	}
	if deps.FreeDeliveryThreshold < 0 {
		return nil, errors.New("pricing service: free delivery threshold must be non-negative")
	}

	rates := deps.TaxRates
	if rates == nil {
		rates = stateTaxRates
	}
	fallback := deps.DefaultTaxRate
	if fallback <= 0 {
		fallback = defaultTaxRate
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PricingService{
		products:         deps.Products,
		deliveryFee:      deps.DeliveryFee,
		freeDeliveryOver: deps.FreeDeliveryThreshold,
		taxRates:         rates,
		defaultTaxRate:   fallback,
		logger:           logger,
	}, nil
}

// PriceCart validates every line against the catalog, checks availability,
// and computes the charge breakdown. The validation pass is read-only and
// all-or-nothing: a failure on any line surfaces the specific error and no
// partial result.
func (s *PricingService) PriceCart(ctx context.Context, cmd PriceCartCommand) (PriceCartResult, error) {
	if s == nil || s.products == nil {
		return PriceCartResult{}, ErrPricingUnavailable
	}
	if len(cmd.Lines) == 0 {
		return PriceCartResult{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}

	items := make([]LineItem, 0, len(cmd.Lines))
	var subtotal int64

	// Products are cached per request so multi-size carts of the same plant
	// read the catalog once.
	productCache := make(map[string]domain.Product, len(cmd.Lines))

	for _, line := range cmd.Lines {
		productID := strings.TrimSpace(line.ProductID)
		sizeID := strings.TrimSpace(line.SizeID)
		if productID == "" || sizeID == "" {
			return PriceCartResult{}, fmt.Errorf("%w: product and size ids are required", ErrPricingInvalidInput)
		}
		if line.Quantity <= 0 {
			return PriceCartResult{}, fmt.Errorf("%w: quantity must be greater than zero", ErrPricingInvalidInput)
		}

		product, ok := productCache[productID]
		if !ok {
			loaded, err := s.products.FindByID(ctx, productID)
			if err != nil {
				if isRepoNotFound(err) {
					return PriceCartResult{}, &PricingError{Code: PricingErrorProductNotFound, ProductID: productID, SizeID: sizeID}
				}
				s.logger(ctx, "pricing.catalog_read_failed", map[string]any{
					"productId": productID,
					"error":     err.Error(),
				})
				return PriceCartResult{}, ErrPricingUnavailable
			}
			product = loaded
			productCache[productID] = product
		}

		if !product.Active {
			return PriceCartResult{}, &PricingError{
				Code:        PricingErrorProductInactive,
				ProductID:   productID,
				SizeID:      sizeID,
				ProductName: product.Name,
			}
		}

		size, found := findProductSize(product, sizeID)
		if !found {
			return PriceCartResult{}, &PricingError{
				Code:        PricingErrorSizeNotFound,
				ProductID:   productID,
				SizeID:      sizeID,
				ProductName: product.Name,
			}
		}

		if size.Stock < line.Quantity {
			return PriceCartResult{}, &PricingError{
				Code:        PricingErrorInsufficientStock,
				ProductID:   productID,
				SizeID:      sizeID,
				ProductName: product.Name,
				SizeLabel:   size.Label,
				Available:   size.Stock,
			}
		}

		items = append(items, LineItem{
			ProductID:    productID,
			ProductName:  product.Name,
			ProductImage: product.Image,
			SizeID:       sizeID,
			SizeLabel:    size.Label,
			UnitPrice:    size.Price,
			Quantity:     line.Quantity,
		})
		subtotal += size.Price * int64(line.Quantity)
	}

	deliveryFee := s.deliveryFee
	if s.freeDeliveryOver > 0 && subtotal >= s.freeDeliveryOver {
		deliveryFee = 0
	}
	tax := roundCents(float64(subtotal) * s.taxRateFor(cmd.ShippingState))
	total := subtotal + tax + deliveryFee

	return PriceCartResult{
		Items:       items,
		Subtotal:    subtotal,
		Tax:         tax,
		DeliveryFee: deliveryFee,
		Total:       total,
	}, nil
}

func (s *PricingService) taxRateFor(state string) float64 {
	if rate, ok := s.taxRates[strings.ToUpper(strings.TrimSpace(state))]; ok {
		return rate
	}
	return s.defaultTaxRate
}

func findProductSize(product domain.Product, sizeID string) (domain.ProductSize, bool) {
	for _, size := range product.Sizes {
		if strings.EqualFold(strings.TrimSpace(size.ID), sizeID) {
			return size, true
		}
	}
	return domain.ProductSize{}, false
}

// roundCents rounds half away from zero, matching how the charge breakdown
// is presented to the customer.
func roundCents(value float64) int64 {
	return int64(math.Round(value))
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const maxCartLines = 50

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// CartServiceDeps wires the repository dependency for cart operations.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	repo   repositories.CartRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:   deps.Repository,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// GetCart loads the stored cart for the user. A user without a stored cart
// gets an empty cart rather than an error, so clients never special-case
// first use.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{UserID: uid, Lines: []CartLine{}}, nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return normaliseCart(cart, uid), nil
}

// ReplaceCart overwrites the stored cart with the submitted lines. Lines for
// the same product size are merged, quantities must be positive, and the
// stored document carries only ids and quantities: prices are recomputed at
// checkout regardless of what the client believed.
func (s *cartService) ReplaceCart(ctx context.Context, cmd ReplaceCartCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	lines, err := normaliseCartLines(cmd.Lines)
	if err != nil {
		return Cart{}, err
	}

	saved, err := s.repo.Put(ctx, domain.Cart{
		UserID:    uid,
		Lines:     lines,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.replaced", map[string]any{
		"userId":    uid,
		"lineCount": len(lines),
	})
	return normaliseCart(saved, uid), nil
}

// ClearCart removes the stored cart. Clearing an absent cart succeeds.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}

	if err := s.repo.Delete(ctx, uid); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	return nil
}

func normaliseCartLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) > maxCartLines {
		return nil, ErrCartInvalidInput
	}

	merged := make([]CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		sizeID := strings.TrimSpace(line.SizeID)
		if productID == "" || sizeID == "" || line.Quantity <= 0 {
			return nil, ErrCartInvalidInput
		}
		key := productID + "\x00" + sizeID
		if at, ok := index[key]; ok {
			merged[at].Quantity += line.Quantity
			continue
		}
		index[key] = len(merged)
		merged = append(merged, CartLine{
			ProductID: productID,
			SizeID:    sizeID,
			Quantity:  line.Quantity,
		})
	}
	return merged, nil
}

func normaliseCart(cart domain.Cart, userID string) Cart {
	cart.UserID = userID
	if cart.Lines == nil {
		cart.Lines = []CartLine{}
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCartNotFound
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/verdantfield/api/internal/domain"
	pfirestore "github.com/verdantfield/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserRepository persists customer profiles, their gateway customer reference,
// and push notification targets under users/{uid}.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// FindByID loads the profile for the given Firebase UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	profile := doc.Data.toDomain()
	profile.ID = doc.ID
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// UpdateProfile upserts the profile document keyed by the profile ID.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return domain.UserProfile{}, errors.New("profile id is required")
	}

	now := time.Now().UTC()
	doc := newUserDocument(profile, now)

	result, err := r.base.Set(ctx, profile.ID, doc)
	if err != nil {
		return domain.UserProfile{}, err
	}

	saved := doc.toDomain()
	saved.ID = profile.ID
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// SetStripeCustomerID records the lazily created gateway customer reference
// without touching the rest of the profile.
func (r *UserRepository) SetStripeCustomerID(ctx context.Context, userID string, customerID string) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(customerID) == "" {
		return errors.New("customer id is required")
	}

	_, err := r.base.Update(ctx, userID, []firestore.Update{
		{Path: "stripeCustomerId", Value: strings.TrimSpace(customerID)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

type userDocument struct {
	Email             string          `firestore:"email"`
	DisplayName       string          `firestore:"displayName"`
	StripeCustomerID  string          `firestore:"stripeCustomerId"`
	DeviceTokens      []string        `firestore:"deviceTokens"`
	NotificationPrefs map[string]bool `firestore:"notificationPrefs"`
	CreatedAt         time.Time       `firestore:"createdAt"`
	UpdatedAt         time.Time       `firestore:"updatedAt"`
}

func newUserDocument(profile domain.UserProfile, now time.Time) userDocument {
	doc := userDocument{
		Email:            strings.ToLower(strings.TrimSpace(profile.Email)),
		DisplayName:      strings.TrimSpace(profile.DisplayName),
		StripeCustomerID: strings.TrimSpace(profile.StripeCustomerID),
		DeviceTokens:     normaliseDeviceTokens(profile.DeviceTokens),
		CreatedAt:        profile.CreatedAt,
		UpdatedAt:        now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if len(profile.NotificationPrefs) > 0 {
		doc.NotificationPrefs = make(map[string]bool, len(profile.NotificationPrefs))
		for k, v := range profile.NotificationPrefs {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			doc.NotificationPrefs[key] = v
		}
	}
	return doc
}

func (d userDocument) toDomain() domain.UserProfile {
	profile := domain.UserProfile{
		Email:            strings.TrimSpace(d.Email),
		DisplayName:      strings.TrimSpace(d.DisplayName),
		StripeCustomerID: strings.TrimSpace(d.StripeCustomerID),
		DeviceTokens:     normaliseDeviceTokens(d.DeviceTokens),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if len(d.NotificationPrefs) > 0 {
		profile.NotificationPrefs = make(domain.NotificationPreferences, len(d.NotificationPrefs))
		for k, v := range d.NotificationPrefs {
			profile.NotificationPrefs[k] = v
		}
	} else {
		profile.NotificationPrefs = domain.NotificationPreferences{}
	}
	return profile
}

func normaliseDeviceTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

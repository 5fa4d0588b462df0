// Package notifications delivers best-effort push notifications to
// customers. Nothing in the order pipeline depends on a delivery succeeding;
// failures are logged and swallowed by callers.
package notifications

import (
	"context"
	"errors"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/verdantfield/api/internal/repositories"
	"github.com/verdantfield/api/internal/services"
)

// pushChannel is the preference key customers toggle to opt out of order
// pushes. A missing key means opted in.
const pushChannel = "push"

// ErrDispatcherUnavailable indicates the dispatcher is missing dependencies.
var ErrDispatcherUnavailable = errors.New("notifications: unavailable")

// fcmClient narrows the messaging client surface used by the dispatcher.
type fcmClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMDispatcherDeps wires the messaging client and the user store the
// dispatcher reads device tokens from.
type FCMDispatcherDeps struct {
	Client fcmClient
	Users  repositories.UserRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type fcmDispatcher struct {
	client fcmClient
	users  repositories.UserRepository
	logger func(context.Context, string, map[string]any)
}

// NewFCMDispatcher constructs a NotificationDispatcher backed by Firebase
// Cloud Messaging.
func NewFCMDispatcher(deps FCMDispatcherDeps) (services.NotificationDispatcher, error) {
	if deps.Client == nil {
		return nil, errors.New("notifications: messaging client is required")
	}
	if deps.Users == nil {
		return nil, errors.New("notifications: user repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fcmDispatcher{
		client: deps.Client,
		users:  deps.Users,
		logger: logger,
	}, nil
}

// Notify pushes the notification to every registered device of the user.
// Users without tokens or who opted out of the push channel are skipped
// silently. Tokens FCM reports as unregistered are pruned from the profile.
func (d *fcmDispatcher) Notify(ctx context.Context, notification services.Notification) error {
	if d == nil || d.client == nil {
		return ErrDispatcherUnavailable
	}

	userID := strings.TrimSpace(notification.UserID)
	if userID == "" {
		return errors.New("notifications: user id is required")
	}

	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if optedIn, ok := user.NotificationPrefs[pushChannel]; ok && !optedIn {
		d.logger(ctx, "notification.skipped", map[string]any{"userId": userID, "reason": "opted_out"})
		return nil
	}
	if len(user.DeviceTokens) == 0 {
		d.logger(ctx, "notification.skipped", map[string]any{"userId": userID, "reason": "no_tokens"})
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: user.DeviceTokens,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Metadata,
	}

	response, err := d.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return err
	}

	stale := staleTokens(user.DeviceTokens, response)
	if len(stale) > 0 {
		d.pruneTokens(ctx, user, stale)
	}

	d.logger(ctx, "notification.sent", map[string]any{
		"userId":  userID,
		"success": response.SuccessCount,
		"failure": response.FailureCount,
	})
	if response.SuccessCount == 0 && response.FailureCount > 0 {
		return errors.New("notifications: every delivery failed")
	}
	return nil
}

func staleTokens(tokens []string, response *messaging.BatchResponse) []string {
	if response == nil {
		return nil
	}
	var stale []string
	for i, result := range response.Responses {
		if i >= len(tokens) || result == nil || result.Success {
			continue
		}
		if messaging.IsUnregistered(result.Error) {
			stale = append(stale, tokens[i])
		}
	}
	return stale
}

// pruneTokens drops unregistered tokens from the profile so future pushes
// stop targeting dead devices. A write failure only delays the cleanup.
func (d *fcmDispatcher) pruneTokens(ctx context.Context, user services.UserProfile, stale []string) {
	dead := make(map[string]bool, len(stale))
	for _, token := range stale {
		dead[token] = true
	}

	kept := make([]string, 0, len(user.DeviceTokens))
	for _, token := range user.DeviceTokens {
		if !dead[token] {
			kept = append(kept, token)
		}
	}
	user.DeviceTokens = kept

	if _, err := d.users.UpdateProfile(ctx, user); err != nil {
		d.logger(ctx, "notification.token_prune_failed", map[string]any{
			"userId": user.ID,
			"error":  err.Error(),
		})
		return
	}
	d.logger(ctx, "notification.tokens_pruned", map[string]any{
		"userId": user.ID,
		"count":  len(stale),
	})
}

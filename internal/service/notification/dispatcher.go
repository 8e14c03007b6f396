package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/push"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/validator"
)

// Dispatcher accepts notifications for delivery. The queued implementation
// returns once the notification is accepted; the direct implementation
// returns after delivery has been attempted.
type Dispatcher interface {
	Send(ctx context.Context, n *model.Notification) error
}

// Deliverer performs one delivery attempt and returns the provider message id.
type Deliverer interface {
	Deliver(ctx context.Context, n *model.Notification) (string, error)
}

// TokenResolver finds a user's registered push token.
type TokenResolver interface {
	PushToken(ctx context.Context, userID string) (string, error)
}

// DefaultTokenCollections are searched in order for a fcmToken field.
var DefaultTokenCollections = []string{
	model.CollectionUsers,
	model.CollectionPatients,
	model.CollectionDoctors,
}

type StoreTokenResolver struct {
	store       repository.Reader
	collections []string
}

func NewStoreTokenResolver(store repository.Reader, collections ...string) *StoreTokenResolver {
	if len(collections) == 0 {
		collections = DefaultTokenCollections
	}
	return &StoreTokenResolver{store: store, collections: collections}
}

// PushToken returns a MissingToken error when no profile carries a token.
func (r *StoreTokenResolver) PushToken(ctx context.Context, userID string) (string, error) {
	for _, c := range r.collections {
		doc, err := r.store.Get(ctx, c, userID)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if token, _ := doc.Data["fcmToken"].(string); token != "" {
			return token, nil
		}
	}
	return "", apperrors.MissingToken(userID)
}

// PushDeliverer resolves the recipient's token and sends one push.
type PushDeliverer struct {
	tokens TokenResolver
	sender push.Sender
	now    func() time.Time
}

func NewPushDeliverer(tokens TokenResolver, sender push.Sender) *PushDeliverer {
	return &PushDeliverer{tokens: tokens, sender: sender, now: time.Now}
}

func (d *PushDeliverer) Deliver(ctx context.Context, n *model.Notification) (string, error) {
	token, err := d.tokens.PushToken(ctx, n.UserID)
	if err != nil {
		return "", err
	}

	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	if _, ok := data["type"]; !ok {
		data["type"] = string(n.Type)
	}

	return d.sender.Send(ctx, push.NewMessage(token, n.Title, n.Body, data, n.Priority, d.now()))
}

// prepare validates n and stamps the fields a fresh notification carries.
func prepare(v validator.Validator, n *model.Notification, now time.Time) (*model.Notification, error) {
	if n == nil {
		return nil, apperrors.Validation("notification is required", nil)
	}
	if err := v.Validate(n); err != nil {
		return nil, err
	}

	cp := *n
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Priority == "" {
		cp.Priority = model.PriorityHigh
	}
	cp.Retries = 0
	cp.Timestamp = now
	cp.NextRetry = time.Time{}
	return &cp, nil
}

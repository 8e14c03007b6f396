// Package user maintains the caller's own profile document.
package user

import (
	"context"
	"strings"
	"time"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

type Service struct {
	store  repository.Store
	now    func() time.Time
	logger *logger.Logger
}

func NewService(store repository.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, now: time.Now, logger: log}
}

// UpdatePushToken stores token as the caller's push token on users/{uid},
// creating the profile from the caller's identity when it does not exist.
func (s *Service) UpdatePushToken(ctx context.Context, caller *auth.Principal, token string) (*model.User, error) {
	if caller == nil || caller.UID == "" {
		return nil, apperrors.Unauthorized(nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.Validation("push token is required", nil)
	}

	var user *model.User
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now().UTC()
		existing, err := repository.GetAs[model.User](ctx, tx, model.CollectionUsers, caller.UID)
		switch {
		case apperrors.IsNotFound(err):
			user = &model.User{
				Base:            model.Base{CreatedAt: now, UpdatedAt: now},
				UID:             caller.UID,
				Email:           caller.Email,
				Role:            caller.Role,
				Status:          model.UserStatusActive,
				FCMToken:        token,
				LastTokenUpdate: &now,
			}
			return tx.Set(ctx, model.CollectionUsers, caller.UID, user)
		case err != nil:
			return err
		}

		existing.FCMToken = token
		existing.LastTokenUpdate = &now
		existing.UpdatedAt = now
		user = existing
		return tx.Update(ctx, model.CollectionUsers, caller.UID, map[string]interface{}{
			"fcmToken":        token,
			"lastTokenUpdate": now,
			"updatedAt":       now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("push token registered", "user_id", caller.UID)
	return user, nil
}

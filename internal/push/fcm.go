package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	// DryRun validates messages with FCM without delivering them.
	DryRun bool
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
	dryRun bool
}

func NewFCMSender(ctx context.Context, cfg FCMConfig) (*FCMSender, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise messaging client: %w", err)
	}
	return &FCMSender{client: client, dryRun: cfg.DryRun}, nil
}

func (s *FCMSender) Send(ctx context.Context, msg *Message) (string, error) {
	m := toFCM(msg)

	var (
		id  string
		err error
	)
	if s.dryRun {
		id, err = s.client.SendDryRun(ctx, m)
	} else {
		id, err = s.client.Send(ctx, m)
	}
	if err != nil {
		return "", apperrors.Delivery(ErrorCode(err), err)
	}
	return id, nil
}

func toFCM(msg *Message) *messaging.Message {
	badge := msg.APNS.Badge
	androidPriority := "high"
	if msg.Priority != "high" {
		androidPriority = "normal"
	}
	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: msg.Android.ChannelID,
				Icon:      msg.Android.Icon,
				Color:     msg.Android.Color,
				Sound:     msg.Android.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: msg.APNS.Sound,
					Badge: &badge,
				},
			},
		},
	}
}

// ErrorCode maps an FCM error to its provider code.
func ErrorCode(err error) string {
	switch {
	case messaging.IsUnregistered(err):
		return "unregistered"
	case messaging.IsInvalidArgument(err):
		return "invalid-argument"
	case messaging.IsQuotaExceeded(err):
		return "quota-exceeded"
	case messaging.IsUnavailable(err):
		return "unavailable"
	case messaging.IsInternal(err):
		return "internal"
	case messaging.IsThirdPartyAuthError(err):
		return "third-party-auth-error"
	case messaging.IsSenderIDMismatch(err):
		return "sender-id-mismatch"
	}
	return "unknown"
}

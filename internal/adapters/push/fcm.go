package push

import (
	"context"
	"errors"
	"fmt"

	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"

	"heartbeat-backend/internal/domain"
)

// FCM отправляет уведомления через Firebase Cloud Messaging HTTP v1.
type FCM struct {
	svc    *fcm.Service
	parent string
}

// NewFCM создаёт клиента FCM. Пустой credentialsFile означает учётные данные по умолчанию.
func NewFCM(ctx context.Context, projectID, credentialsFile string) (*FCM, error) {
	if projectID == "" {
		return nil, errors.New("fcm project id is empty")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create fcm service: %w", err)
	}
	return &FCM{svc: svc, parent: "projects/" + projectID}, nil
}

// Send отправляет одно уведомление на токен устройства.
func (f *FCM) Send(ctx context.Context, msg domain.PushMessage) error {
	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token: msg.Token,
			Notification: &fcm.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
		},
	}
	if _, err := f.svc.Projects.Messages.Send(f.parent, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

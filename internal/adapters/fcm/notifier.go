package fcm

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/korope-ng/korope/internal/core/domain"
)

// Sender is the part of the FCM client the notifier needs.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Notifier implements ports.NotificationService over Firebase Cloud
// Messaging. Devices subscribe to the topic "user-<id>", so no device
// token registry is needed here.
type Notifier struct {
	sender Sender
}

// New initialises the Firebase Admin SDK. If credentialsFile is empty,
// application-default credentials are used.
func New(ctx context.Context, projectID, credentialsFile string) (*Notifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &Notifier{sender: client}, nil
}

// NewWithSender wraps an existing sender.
func NewWithSender(s Sender) *Notifier {
	return &Notifier{sender: s}
}

// UserTopic is the FCM topic a user's devices subscribe to.
func UserTopic(userID string) string { return "user-" + userID }

// BuildMessage converts a notification into an FCM message.
func BuildMessage(userID string, n domain.Notification) *messaging.Message {
	return &messaging.Message{
		Topic: UserTopic(userID),
		Data:  n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
}

// SendToUser pushes n to every device of the user.
func (f *Notifier) SendToUser(ctx context.Context, userID string, n domain.Notification) error {
	id, err := f.sender.Send(ctx, BuildMessage(userID, n))
	if err != nil {
		return fmt.Errorf("sending FCM to %s: %w", UserTopic(userID), err)
	}
	slog.Debug("fcm sent", "user_id", userID, "message_id", id, "kind", n.Data["kind"])
	return nil
}

// LogNotifier only logs notifications. It stands in when Firebase is not
// configured.
type LogNotifier struct{}

func (LogNotifier) SendToUser(_ context.Context, userID string, n domain.Notification) error {
	slog.Info("notification", "user_id", userID, "title", n.Title, "body", n.Body)
	return nil
}

package firebase

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"catalogsync/internal/domain/catalog"
)

// sender is the part of *messaging.Client the alerter uses.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Alerter sends failed sync runs to an FCM topic.
type Alerter struct {
	msgClient sender
	topic     string
}

// NewAlerter creates an FCM messaging client publishing to topic.
func NewAlerter(ctx context.Context, app *firebase.App, topic string) (*Alerter, error) {
	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}
	return &Alerter{msgClient: msgClient, topic: topic}, nil
}

// SyncFailed publishes the failed summary as a topic notification.
func (a *Alerter) SyncFailed(ctx context.Context, summary catalog.RunSummary) error {
	msg := &messaging.Message{
		Topic: a.topic,
		Notification: &messaging.Notification{
			Title: "Catalog sync failed",
			Body:  fmt.Sprintf("Provider %s: %s", summary.ProviderID, summary.Error),
		},
		Data: map[string]string{
			"providerId":   summary.ProviderID,
			"status":       summary.Status,
			"lastSyncedAt": summary.LastSyncedAt.Format(time.RFC3339),
			"itemsAdded":   strconv.Itoa(summary.ItemsAdded),
			"itemsUpdated": strconv.Itoa(summary.ItemsUpdated),
		},
	}

	id, err := a.msgClient.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}
	log.Printf("Provider %s: sync failure alert sent to topic %s (%s)", summary.ProviderID, a.topic, id)
	return nil
}

package firebase

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/domain/catalog"
)

type fakeSender struct {
	messages []*messaging.Message
	err      error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.messages = append(f.messages, m)
	return "projects/x/messages/1", f.err
}

func TestSyncFailed(t *testing.T) {
	s := &fakeSender{}
	a := &Alerter{msgClient: s, topic: "catalog-alerts"}

	err := a.SyncFailed(context.Background(), catalog.RunSummary{
		ProviderID:   "anz",
		Status:       catalog.StatusError,
		Error:        "provider API error (status 503)",
		LastSyncedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ItemsAdded:   4,
	})
	require.NoError(t, err)
	require.Len(t, s.messages, 1)

	m := s.messages[0]
	assert.Equal(t, "catalog-alerts", m.Topic)
	assert.Equal(t, "Provider anz: provider API error (status 503)", m.Notification.Body)
	assert.Equal(t, "4", m.Data["itemsAdded"])
	assert.Equal(t, "2024-03-01T10:00:00Z", m.Data["lastSyncedAt"])
}

func TestSyncFailedSendError(t *testing.T) {
	a := &Alerter{msgClient: &fakeSender{err: errors.New("unavailable")}, topic: "t"}
	assert.Error(t, a.SyncFailed(context.Background(), catalog.RunSummary{ProviderID: "anz"}))
}

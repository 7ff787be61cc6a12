package listener

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"catalogsync/internal/domain/eventlog"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHandler) HandleEvent(_ context.Context, eventID, consumer string) (eventlog.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, eventID+"/"+consumer)
	if consumer == "broken" {
		return "", errors.New("boom")
	}
	return eventlog.Applied, nil
}

func TestHandleNotificationDispatchesEveryConsumer(t *testing.T) {
	h := &recordingHandler{}
	l := NewEventListener("", h, []string{"productBrands", "broken", "productCategories"})

	l.handleNotification(&pq.Notification{Channel: channelName, Extra: " ev-1 "})
	l.handleNotification(&pq.Notification{Channel: channelName, Extra: ""})
	l.inFlight.Wait()

	assert.Equal(t, []string{"ev-1/productBrands", "ev-1/broken", "ev-1/productCategories"}, h.calls)
}

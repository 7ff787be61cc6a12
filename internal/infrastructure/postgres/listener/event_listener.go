package listener

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"catalogsync/internal/domain/eventlog"
)

const (
	channelName       = "catalog_events"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// EventHandler folds one event for one consumer.
type EventHandler interface {
	HandleEvent(ctx context.Context, eventID, consumer string) (eventlog.Outcome, error)
}

// EventListener listens for PostgreSQL notifications sent when a catalog
// event is inserted and triggers each consumer for it. NOTIFY delivery can
// repeat after reconnects; the handler's lease makes repeats harmless.
type EventListener struct {
	connStr    string
	handler    EventHandler
	consumers  []string
	shutdownCh chan struct{}
	done       chan struct{}
	inFlight   sync.WaitGroup
}

// NewEventListener creates a new listener for catalog event notifications
func NewEventListener(connStr string, handler EventHandler, consumers []string) *EventListener {
	return &EventListener{
		connStr:    connStr,
		handler:    handler,
		consumers:  consumers,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *EventListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Printf("Catalog event listener started for consumers %v", l.consumers)
}

// Stop gracefully shuts down the listener and waits for in-flight handlers
func (l *EventListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.inFlight.Wait()
	log.Println("Catalog event listener stopped")
}

func (l *EventListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for catalog events...")
		}
	}
}

func (l *EventListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		log.Printf("Failed to listen on channel %s: %v", channelName, err)
		return
	}
	log.Printf("Listening on channel: %s", channelName)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, break to reconnect
				return
			}
			l.handleNotification(notification)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *EventListener) handleNotification(notification *pq.Notification) {
	eventID := strings.TrimSpace(notification.Extra)
	if eventID == "" {
		log.Printf("Ignoring empty notification on channel %s", notification.Channel)
		return
	}

	l.inFlight.Add(1)
	// Background context: a shutdown must not cut a fold in half.
	go func() {
		defer l.inFlight.Done()
		l.dispatch(context.Background(), eventID)
	}()
}

// dispatch runs the handler for every consumer of the event.
func (l *EventListener) dispatch(ctx context.Context, eventID string) {
	for _, consumer := range l.consumers {
		outcome, err := l.handler.HandleEvent(ctx, eventID, consumer)
		if err != nil {
			log.Printf("Event %s: consumer %s failed: %v", eventID, consumer, err)
			continue
		}
		log.Printf("Event %s: consumer %s %s", eventID, consumer, outcome)
	}
}

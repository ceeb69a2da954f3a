// Package bus is the in-process event bus that decouples the UI surfaces
// from the session controller. Signals are fire-and-forget: synchronous
// fan-out to the current subscribers, no persistence, no replay.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/easyvpn/easyvpn-client/internal/account"
)

// Kind names a signal carried by the bus.
type Kind string

const (
	// KindLoginSuccess carries the freshly installed account snapshot.
	KindLoginSuccess Kind = "login-success"
	// KindLoginError carries the login failure.
	KindLoginError Kind = "login-error"
	// KindLogoutSuccess has no payload.
	KindLogoutSuccess Kind = "logout-success"
	// KindNavigate carries the target page name.
	KindNavigate Kind = "navigate"
	// KindGoBack has no payload.
	KindGoBack Kind = "go-back"
)

// Event is a signal plus its payload. Only the field matching the kind is
// set; the rest stay zero.
type Event struct {
	Kind    Kind
	Account *account.Account // login-success
	Err     error            // login-error
	Page    string           // navigate
}

// LoginSuccess builds a login-success event.
func LoginSuccess(acct *account.Account) Event {
	return Event{Kind: KindLoginSuccess, Account: acct}
}

// LoginError builds a login-error event.
func LoginError(err error) Event {
	return Event{Kind: KindLoginError, Err: err}
}

// LogoutSuccess builds a logout-success event.
func LogoutSuccess() Event {
	return Event{Kind: KindLogoutSuccess}
}

// Navigate builds a navigation request for the given page.
func Navigate(page string) Event {
	return Event{Kind: KindNavigate, Page: page}
}

// GoBack builds a back-navigation request.
func GoBack() Event {
	return Event{Kind: KindGoBack}
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block; anything slow belongs in a
// goroutine of the handler's own.
type Handler func(Event)

// Bus fans published events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind]map[string]Handler
	logger      *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Kind]map[string]Handler),
		logger:      logger,
	}
}

// Subscription identifies one registered handler. Cancel detaches it.
type Subscription struct {
	bus  *Bus
	kind Kind
	id   string
}

// Cancel removes the handler from the bus. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subscribers[s.kind]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subscribers, s.kind)
		}
	}
}

// Subscribe registers a handler for the given kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	id := uuid.New().String()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[kind] == nil {
		b.subscribers[kind] = make(map[string]Handler)
	}
	b.subscribers[kind][id] = handler
	b.logger.Debug("subscribed to bus signal", "kind", kind, "subscription_id", id)

	return &Subscription{bus: b, kind: kind, id: id}
}

// Publish delivers the event to every handler subscribed to its kind at the
// moment of the call. Handlers registered or cancelled during delivery take
// effect on the next publish.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Kind]))
	for _, h := range b.subscribers[event.Kind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no subscribers for bus signal", "kind", event.Kind)
		return
	}

	for _, h := range handlers {
		h(event)
	}
}

// SubscriberCount returns the number of handlers registered for the kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}

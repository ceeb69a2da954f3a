package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyvpn/easyvpn-client/internal/account"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New(nil)

	var received []Event
	b.Subscribe(KindLoginSuccess, func(e Event) {
		received = append(received, e)
	})

	acct := &account.Account{Username: "alice", Status: account.EntitlementTrial}
	b.Publish(LoginSuccess(acct))

	require.Len(t, received, 1)
	assert.Equal(t, KindLoginSuccess, received[0].Kind)
	assert.Equal(t, "alice", received[0].Account.Username)
}

func TestBus_EventConstructors(t *testing.T) {
	loginErr := errors.New("bad credentials")
	acct := &account.Account{Username: "bob"}

	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, e Event)
	}{
		{
			name:  "login success carries account",
			event: LoginSuccess(acct),
			check: func(t *testing.T, e Event) {
				assert.Equal(t, KindLoginSuccess, e.Kind)
				assert.Same(t, acct, e.Account)
			},
		},
		{
			name:  "login error carries error",
			event: LoginError(loginErr),
			check: func(t *testing.T, e Event) {
				assert.Equal(t, KindLoginError, e.Kind)
				assert.ErrorIs(t, e.Err, loginErr)
			},
		},
		{
			name:  "logout success has no payload",
			event: LogoutSuccess(),
			check: func(t *testing.T, e Event) {
				assert.Equal(t, KindLogoutSuccess, e.Kind)
				assert.Nil(t, e.Account)
				assert.NoError(t, e.Err)
			},
		},
		{
			name:  "navigate carries page name",
			event: Navigate("settings"),
			check: func(t *testing.T, e Event) {
				assert.Equal(t, KindNavigate, e.Kind)
				assert.Equal(t, "settings", e.Page)
			},
		},
		{
			name:  "go back has no payload",
			event: GoBack(),
			check: func(t *testing.T, e Event) {
				assert.Equal(t, KindGoBack, e.Kind)
				assert.Empty(t, e.Page)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.event)
		})
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	b := New(nil)

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		b.Subscribe(KindLogoutSuccess, func(Event) {
			count.Add(1)
		})
	}

	b.Publish(LogoutSuccess())

	assert.Equal(t, int32(3), count.Load())
}

func TestBus_SubscriberOnlyReceivesItsKind(t *testing.T) {
	b := New(nil)

	var navigations, backs int
	b.Subscribe(KindNavigate, func(Event) { navigations++ })
	b.Subscribe(KindGoBack, func(Event) { backs++ })

	b.Publish(Navigate("devices"))
	b.Publish(Navigate("settings"))
	b.Publish(GoBack())

	assert.Equal(t, 2, navigations)
	assert.Equal(t, 1, backs)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := New(nil)

	// Must not panic or block
	b.Publish(LoginError(errors.New("nobody listens")))
}

func TestSubscription_Cancel(t *testing.T) {
	b := New(nil)

	var calls int
	sub := b.Subscribe(KindLoginSuccess, func(Event) { calls++ })

	b.Publish(LoginSuccess(nil))
	assert.Equal(t, 1, calls)

	sub.Cancel()
	b.Publish(LoginSuccess(nil))
	assert.Equal(t, 1, calls, "cancelled subscription should not receive events")
	assert.Zero(t, b.SubscriberCount(KindLoginSuccess))
}

func TestSubscription_CancelIsIdempotent(t *testing.T) {
	b := New(nil)

	sub := b.Subscribe(KindGoBack, func(Event) {})
	sub.Cancel()
	sub.Cancel()

	var nilSub *Subscription
	nilSub.Cancel()
}

func TestSubscription_CancelOnlyRemovesItself(t *testing.T) {
	b := New(nil)

	var aCalls, bCalls int
	subA := b.Subscribe(KindNavigate, func(Event) { aCalls++ })
	b.Subscribe(KindNavigate, func(Event) { bCalls++ })

	subA.Cancel()
	b.Publish(Navigate("account"))

	assert.Zero(t, aCalls)
	assert.Equal(t, 1, bCalls)
	assert.Equal(t, 1, b.SubscriberCount(KindNavigate))
}

func TestBus_SubscribeDuringDispatch(t *testing.T) {
	b := New(nil)

	var lateCalls int
	b.Subscribe(KindLogoutSuccess, func(Event) {
		// Registering from inside a handler must not deadlock; the new
		// handler only sees subsequent publishes.
		b.Subscribe(KindLogoutSuccess, func(Event) { lateCalls++ })
	})

	b.Publish(LogoutSuccess())
	assert.Zero(t, lateCalls)

	b.Publish(LogoutSuccess())
	assert.Equal(t, 1, lateCalls)
}

func TestBus_CancelDuringDispatch(t *testing.T) {
	b := New(nil)

	var calls int
	var sub *Subscription
	sub = b.Subscribe(KindGoBack, func(Event) {
		calls++
		sub.Cancel()
	})

	b.Publish(GoBack())
	b.Publish(GoBack())

	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentAccess(t *testing.T) {
	b := New(nil)

	const numGoroutines = 20
	var delivered atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe(KindNavigate, func(Event) {
				delivered.Add(1)
			})
			defer sub.Cancel()
			for j := 0; j < 50; j++ {
				b.Publish(Navigate("home"))
			}
		}()
	}

	wg.Wait()

	// Every publish reached at least the publishing goroutine's own handler.
	assert.GreaterOrEqual(t, delivered.Load(), int64(numGoroutines*50))
	assert.Zero(t, b.SubscriberCount(KindNavigate))
}

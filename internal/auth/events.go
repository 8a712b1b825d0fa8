package auth

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind は認証状態の遷移種別。
type EventKind string

const (
	// EventSignedIn はセッションが確立されたことを示す。
	EventSignedIn EventKind = "signed_in"
	// EventSignedOut はセッションが破棄されたことを示す。
	EventSignedOut EventKind = "signed_out"
)

// Event は認証状態の遷移を表す。
type Event struct {
	Kind      EventKind
	SubjectID string
	SessionID string
	At        time.Time
}

// EventHandler はEventを受け取るコールバック。
type EventHandler func(Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus は認証状態の変化を購読者に通知する。
// 1回のPublishにつき、その時点の購読者それぞれが正確に1回呼ばれる。
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewEventBus はEventBusを生成する。
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe はハンドラーを登録し、登録解除用の関数を返す。
// 登録解除関数は何度呼んでも安全。
func (b *EventBus) Subscribe(h EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish はイベントを現在の全購読者に同期的に配信する。
// 購読者のpanicは他の購読者への配信を妨げない。
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.handler, e)
	}
}

// subscriberCount は現在の購読者数を返す。
func (b *EventBus) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func deliver(h EventHandler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("auth event handler panicked",
				slog.String("event", string(e.Kind)),
				slog.Any("panic", rec),
			)
		}
	}()
	h(e)
}

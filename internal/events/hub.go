package rewards

import (
	"context"
	"sync"
)

// Топики изменений
func AccountTopic(accountID string) string {
	return "account/" + accountID
}

func ContestTopic(contestID string) string {
	return "contest/" + contestID
}

func ParticipantTopic(contestID string, accountID string) string {
	return "participant/" + contestID + "/" + accountID
}

type subscriber struct {
	mu     sync.Mutex
	closed bool
	fn     func(topic string)
}

// колбэк вызывается под mu, поэтому после unsubscribe вызовов нет
func (s *subscriber) deliver(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(topic)
}

// Hub - шина событий внутри процесса.
// Колбэк не должен вызывать свой unsubscribe: будет deadlock.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*subscriber)}
}

func (h *Hub) Publish(_ context.Context, topic string) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[topic]))
	for _, s := range h.subs[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.deliver(topic)
	}
}

func (h *Hub) Subscribe(topic string, fn func(topic string)) (unsubscribe func()) {
	s := &subscriber{fn: fn}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]*subscriber)
	}
	h.subs[topic][id] = s
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], id)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()

			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
		})
	}
}

// кол-во активных подписок, для проверки утечек
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n int
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

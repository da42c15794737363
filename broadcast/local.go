package broadcast

import (
	"context"
	"sync"
)

// LocalBus delivers messages between tabs living in the same process. Each
// handler is invoked on its own goroutine.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Message)
	wg     sync.WaitGroup
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]func(Message))}
}

func (b *LocalBus) Publish(_ context.Context, topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.subs[topic] {
		b.wg.Add(1)
		go func(h func(Message)) {
			defer b.wg.Done()
			h(msg)
		}(handler)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, handler func(Message)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Message))
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = handler

	return &localSubscription{bus: b, topic: topic, id: id}, nil
}

// Wait blocks until every in-flight delivery has returned.
func (b *LocalBus) Wait() {
	b.wg.Wait()
}

type localSubscription struct {
	bus   *LocalBus
	topic string
	id    int
	once  sync.Once
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs[s.topic], s.id)
	})
	return nil
}

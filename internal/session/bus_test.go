package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type BusSuite struct {
	suite.Suite
}

func (s *BusSuite) TestPublishSubscribe() {
	bus := NewBus()

	var mu sync.Mutex
	var got []string

	unsubscribe := bus.Subscribe(func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.Type)
	})

	bus.Publish(Event{Type: EventConnected})
	bus.Publish(Event{Type: EventDisconnected})

	mu.Lock()
	s.ElementsMatch([]string{EventConnected, EventDisconnected}, got)
	mu.Unlock()

	unsubscribe()
	bus.Publish(Event{Type: EventLogout})

	mu.Lock()
	s.Len(got, 2)
	mu.Unlock()
}

func (s *BusSuite) TestMultipleListeners() {
	bus := NewBus()

	var mu sync.Mutex
	counts := make(map[int]int)

	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(Event) {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
		})
	}

	bus.Publish(Event{Type: EventUserChanged})

	mu.Lock()
	defer mu.Unlock()
	s.Equal(map[int]int{0: 1, 1: 1, 2: 1}, counts)
}

func (s *BusSuite) TestUnsubscribeIdempotent() {
	bus := NewBus()
	unsubscribe := bus.Subscribe(func(Event) {})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Type: EventLogin})
}

func TestBus(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// callCounter counts deactivate callbacks per handle
type callCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{counts: make(map[string]int)}
}

func (c *callCounter) callback(id string) DeactivateFunc {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.counts[id]++
	}
}

func (c *callCounter) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

func TestActivationBroker_MutualExclusion(t *testing.T) {
	broker := NewActivationBroker(nil)
	calls := newCallCounter()
	for _, id := range []string{"A", "B", "C"} {
		broker.Register(id, calls.callback(id))
	}

	assert.True(t, broker.RequestActivate("A"))
	assert.True(t, broker.RequestActivate("B"))

	assert.Equal(t, 1, calls.get("A"))
	assert.Equal(t, "B", broker.ActiveID())
	assert.True(t, broker.IsActive("B"))
	assert.False(t, broker.IsActive("A"))

	before := map[string]int{"A": calls.get("A"), "B": calls.get("B"), "C": calls.get("C")}
	assert.False(t, broker.RequestActivate("B"))
	for id, n := range before {
		assert.Equal(t, n, calls.get(id), id)
	}
}

func TestActivationBroker_PanickingCallbackDoesNotStopOthers(t *testing.T) {
	broker := NewActivationBroker(nil)
	calls := newCallCounter()
	broker.Register("bad", func() { panic("widget gone") })
	broker.Register("good", calls.callback("good"))
	broker.Register("me", calls.callback("me"))

	assert.True(t, broker.RequestActivate("me"))
	assert.Equal(t, 1, calls.get("good"))
	assert.Equal(t, 0, calls.get("me"))
	assert.Equal(t, "me", broker.ActiveID())
}

func TestActivationBroker_NotifyDeactivated(t *testing.T) {
	broker := NewActivationBroker(nil)
	calls := newCallCounter()
	broker.Register("A", calls.callback("A"))
	broker.Register("B", calls.callback("B"))

	broker.RequestActivate("A")
	broker.NotifyDeactivated("B")
	assert.Equal(t, "A", broker.ActiveID(), "only the active handle clears the pointer")

	broker.NotifyDeactivated("A")
	assert.Empty(t, broker.ActiveID())
	assert.Equal(t, 0, calls.get("A"))

	assert.True(t, broker.RequestActivate("A"), "a deactivated handle can be activated again")
}

func TestActivationBroker_Unregister(t *testing.T) {
	broker := NewActivationBroker(nil)
	calls := newCallCounter()
	broker.Register("A", calls.callback("A"))
	broker.Register("B", calls.callback("B"))

	broker.RequestActivate("A")
	broker.Unregister("A")
	assert.Empty(t, broker.ActiveID())

	broker.RequestActivate("B")
	assert.Equal(t, 0, calls.get("A"), "unregistered handles get no callbacks")
}

func TestActivationBroker_DeactivateAll(t *testing.T) {
	broker := NewActivationBroker(nil)
	calls := newCallCounter()
	for _, id := range []string{"A", "B", "C"} {
		broker.Register(id, calls.callback(id))
	}
	broker.RequestActivate("A")

	broker.DeactivateAll()

	assert.Empty(t, broker.ActiveID())
	assert.Equal(t, 2, calls.get("A"), "the active handle is deactivated first, then with everyone")
	assert.Equal(t, 2, calls.get("B"))
	assert.Equal(t, 2, calls.get("C"))
}

func TestActivationBroker_CallbackMayReenter(t *testing.T) {
	broker := NewActivationBroker(nil)
	broker.Register("A", func() { broker.NotifyDeactivated("A") })
	broker.Register("B", func() {})

	broker.RequestActivate("A")
	assert.True(t, broker.RequestActivate("B"))
	assert.Equal(t, "B", broker.ActiveID())
}

func TestActivationBroker_ConcurrentActivation(t *testing.T) {
	broker := NewActivationBroker(nil)
	ids := []string{"A", "B", "C", "D"}
	for _, id := range ids {
		broker.Register(id, func() {})
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			broker.RequestActivate(id)
		}(ids[i%len(ids)])
	}
	wg.Wait()

	assert.Contains(t, ids, broker.ActiveID())
}

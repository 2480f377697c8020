package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(lo, hi int) MatchEvent {
	return newMatchEvent(&Match{
		PairKey:   pairKey(lo, hi),
		UserLo:    lo,
		UserHi:    hi,
		CreatedAt: time.Now(),
	})
}

func recvEvent(t *testing.T, ch <-chan MatchEvent) MatchEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return MatchEvent{}
	}
}

func TestMatchEventHub(t *testing.T) {
	t.Run("DeliversToBothParticipants", func(t *testing.T) {
		h := newMatchEventHub()
		chLo, cancelLo := h.Subscribe(1)
		defer cancelLo()
		chHi, cancelHi := h.Subscribe(2)
		defer cancelHi()
		chOther, cancelOther := h.Subscribe(3)
		defer cancelOther()

		evt := testEvent(1, 2)
		h.Publish(evt)

		assert.Equal(t, evt.ID, recvEvent(t, chLo).ID)
		assert.Equal(t, evt.ID, recvEvent(t, chHi).ID)
		select {
		case got := <-chOther:
			t.Fatalf("uninvolved subscriber received event %s", got.ID)
		default:
		}
	})

	t.Run("FirehoseSeesEverything", func(t *testing.T) {
		h := newMatchEventHub()
		all, cancel := h.SubscribeAll()
		defer cancel()

		h.Publish(testEvent(1, 2))
		h.Publish(testEvent(3, 4))

		assert.Equal(t, pairKey(1, 2), recvEvent(t, all).PairKey)
		assert.Equal(t, pairKey(3, 4), recvEvent(t, all).PairKey)
	})

	t.Run("PublishNeverBlocksOnFullBuffer", func(t *testing.T) {
		h := newMatchEventHub()
		ch, cancel := h.Subscribe(7)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Well past the subscriber buffer; nothing drains ch.
			for i := 0; i < 100; i++ {
				h.Publish(testEvent(7, 8))
			}
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Publish blocked on a slow subscriber")
		}
		// The buffered portion is still deliverable
		require.NotEmpty(t, recvEvent(t, ch).ID)
	})

	t.Run("CancelClosesChannelAndUnregisters", func(t *testing.T) {
		h := newMatchEventHub()
		ch, cancel := h.Subscribe(5)
		cancel()

		_, open := <-ch
		assert.False(t, open, "cancelled subscription channel should be closed")

		// Safe to publish and to cancel twice after unsubscribe
		h.Publish(testEvent(5, 6))
		cancel()
	})

	t.Run("EventIDsAreUnique", func(t *testing.T) {
		a := testEvent(1, 2)
		b := testEvent(1, 2)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, a.PairKey, b.PairKey)
	})
}

package broker

import (
	"testing"
	"time"

	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

func TestTopicLog_PullFromEmpty(t *testing.T) {
	log := NewTopicLog()
	events := log.Pull(nil)
	if len(events) != 0 {
		t.Errorf("expected no events from an empty log, found %d", len(events))
	}
}

func TestTopicLog_CursorProgress(t *testing.T) {
	log := NewTopicLog()
	var pushed []types.SignalingEvent
	for i := 0; i < 5; i++ {
		e := types.NewJoin("room-1", "alice")
		log.Push(e)
		pushed = append(pushed, e)
	}

	id := pushed[2].Id
	rest := log.Pull(&id)
	if len(rest) != 2 {
		t.Fatalf("expected 2 events after cursor, found %d", len(rest))
	}
	if rest[0].Id != pushed[3].Id || rest[1].Id != pushed[4].Id {
		t.Errorf("unexpected suffix returned: %#v", rest)
	}

	last := pushed[4].Id
	if empty := log.Pull(&last); len(empty) != 0 {
		t.Errorf("expected no events past the newest cursor, found %d", len(empty))
	}
}

func TestTopicLog_UnknownCursorFailsOpen(t *testing.T) {
	log := NewTopicLog()
	for i := 0; i < 3; i++ {
		log.Push(types.NewJoin("room-1", "alice"))
	}
	missing := types.EventId("evicted-or-never-seen")
	all := log.Pull(&missing)
	if len(all) != 3 {
		t.Errorf("expected the full window back for an unknown cursor, found %d", len(all))
	}
}

func TestTopicLog_FIFOEviction(t *testing.T) {
	log := NewTopicLog()
	var pushed []types.SignalingEvent
	for i := 0; i < MaxQueueSize+37; i++ {
		e := types.NewAlive("room-1", "alice")
		log.Push(e)
		pushed = append(pushed, e)
	}

	if log.Len() != MaxQueueSize {
		t.Fatalf("expected the log to be capped at %d, found %d", MaxQueueSize, log.Len())
	}

	all := log.Pull(nil)
	want := pushed[len(pushed)-MaxQueueSize:]
	if len(all) != len(want) {
		t.Fatalf("expected %d surviving events, found %d", len(want), len(all))
	}
	for i := range want {
		if all[i].Id != want[i].Id {
			t.Errorf("eviction broke push order at index %d", i)
		}
	}
}

func TestTopicLog_TimeExpiry(t *testing.T) {
	log := NewTopicLog()
	log.lastGC = time.Now().Add(-ExpiryWindow - time.Second)
	log.entries = append(log.entries, stamped{
		event:     types.NewJoin("room-1", "alice"),
		timestamp: time.Now().Add(-ExpiryWindow - time.Second),
	})
	fresh := types.NewAlive("room-1", "alice")
	log.entries = append(log.entries, stamped{event: fresh, timestamp: time.Now()})

	events := log.Pull(nil)
	if len(events) != 1 || events[0].Id != fresh.Id {
		t.Errorf("expected only the fresh event to survive expiry, got %#v", events)
	}
}

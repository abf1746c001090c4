package broker

import (
	"testing"

	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

func TestBroker_MissingTopicKey(t *testing.T) {
	b := New()
	err := b.Push(types.SignalingEvent{Id: types.NewEventId(), Type: types.EventJoin, PeerId: "alice"})
	if err != types.ErrMissingTopicKey {
		t.Fatalf("expected ErrMissingTopicKey, got %v", err)
	}
}

func TestBroker_PullAgainstAbsentTopicIsEmpty(t *testing.T) {
	b := New()
	events := b.Pull(PullRequest{Topic: "never-published"})
	if len(events) != 0 {
		t.Errorf("expected no events for an absent topic, found %d", len(events))
	}
}

func TestBroker_TopicIsolation(t *testing.T) {
	b := New()
	room1 := types.NewJoin("room-1", "alice")
	room2 := types.NewJoin("room-2", "bob")
	channel := types.NewSdpOffer("room-1:alice-bob", "alice", "v=0")

	if err := b.Push(room1); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(room2); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(channel); err != nil {
		t.Fatal(err)
	}

	r1 := b.Pull(PullRequest{Topic: "room-1"})
	if len(r1) != 1 || r1[0].Id != room1.Id {
		t.Errorf("room-1 topic leaked foreign events: %#v", r1)
	}

	r2 := b.Pull(PullRequest{Topic: "room-2"})
	if len(r2) != 1 || r2[0].Id != room2.Id {
		t.Errorf("room-2 topic leaked foreign events: %#v", r2)
	}

	ch := b.Pull(PullRequest{Topic: "room-1:alice-bob"})
	if len(ch) != 1 || ch[0].Id != channel.Id {
		t.Errorf("channel topic leaked foreign events: %#v", ch)
	}
}

func TestBroker_CursorReplay(t *testing.T) {
	b := New()
	const total = 250
	var ids []types.EventId
	for i := 0; i < total; i++ {
		e := types.NewJoin("room-1", "alice")
		if err := b.Push(e); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.Id)
	}

	all := b.Pull(PullRequest{Topic: "room-1"})
	if len(all) != MaxQueueSize {
		t.Fatalf("expected the last %d events, found %d", MaxQueueSize, len(all))
	}
	wantFirst := ids[total-MaxQueueSize]
	if all[0].Id != wantFirst {
		t.Errorf("expected oldest surviving event %s, got %s", wantFirst, all[0].Id)
	}
	if all[len(all)-1].Id != ids[total-1] {
		t.Errorf("expected newest event %s, got %s", ids[total-1], all[len(all)-1].Id)
	}
}

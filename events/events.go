package events

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rotblauer/trackd/types/trackfile"
)

type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindDeleted   Kind = "deleted"
)

// TrackFileEvent describes a track file reaching a terminal state, or going away.
// TrackFile is a snapshot taken at emission time.
type TrackFileEvent struct {
	Kind      Kind                `json:"kind"`
	TrackFile trackfile.TrackFile `json:"track_file"`
	At        time.Time           `json:"at"`
}

// Bus carries track file lifecycle events to in-process subscribers
// (websocket clients, metrics exporters).
// Sends never block the caller.
type Bus struct {
	TrackFiles event.FeedOf[TrackFileEvent]
}

func NewBus() *Bus {
	return &Bus{}
}

// Emit sends the event to all current subscribers.
// A nil Bus drops events.
func (b *Bus) Emit(kind Kind, tf trackfile.TrackFile) {
	if b == nil {
		return
	}
	ev := TrackFileEvent{Kind: kind, TrackFile: tf, At: time.Now().UTC()}
	go b.TrackFiles.Send(ev)
}

// Subscribe registers ch for all track file events.
func (b *Bus) Subscribe(ch chan<- TrackFileEvent) event.Subscription {
	return b.TrackFiles.Subscribe(ch)
}

package webd

import (
	"encoding/json"

	"github.com/olahol/melody"
	"github.com/rotblauer/trackd/events"
)

type websocketAction string

const (
	websocketActionCompleted websocketAction = "trackfile.completed"
	websocketActionFailed    websocketAction = "trackfile.failed"
	websocketActionDeleted   websocketAction = "trackfile.deleted"
)

var actionForKind = map[events.Kind]websocketAction{
	events.KindCompleted: websocketActionCompleted,
	events.KindFailed:    websocketActionFailed,
	events.KindDeleted:   websocketActionDeleted,
}

type broadcast struct {
	Action    websocketAction `json:"action"`
	TrackFile trackFileView   `json:"trackfile"`
}

// initMelody sets up the websocket handler and forwards track file
// events from the bus to every connected client.
func (s *WebDaemon) initMelody() {
	s.melodyInstance = melody.New()

	s.melodyInstance.HandleConnect(func(ms *melody.Session) {
		s.logger.Debug("Websocket connected", "remote", ms.Request.RemoteAddr)
	})

	// Clients have nothing to say. Log and drop.
	s.melodyInstance.HandleMessage(func(ms *melody.Session, msg []byte) {
		s.logger.Debug("Websocket message", "remote", ms.Request.RemoteAddr, "len", len(msg))
	})

	s.melodyInstance.HandleDisconnect(func(ms *melody.Session) {
		s.logger.Debug("Websocket disconnected", "remote", ms.Request.RemoteAddr)
	})

	s.melodyInstance.HandleError(func(ms *melody.Session, e error) {
		s.logger.Warn("Websocket error", "remote", ms.Request.RemoteAddr, "error", e)
	})

	if s.bus == nil {
		return
	}
	ch := make(chan events.TrackFileEvent, 16)
	sub := s.bus.Subscribe(ch)
	m := s.melodyInstance
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-ch:
				if m.IsClosed() {
					return
				}
				tf := ev.TrackFile
				b, err := json.Marshal(broadcast{Action: actionForKind[ev.Kind], TrackFile: newTrackFileView(&tf)})
				if err != nil {
					s.logger.Error("Failed to marshal track file event", "error", err)
					continue
				}
				if err := m.Broadcast(b); err != nil {
					s.logger.Warn("Failed to broadcast track file event", "error", err)
				}
			case err := <-sub.Err():
				if err != nil {
					s.logger.Error("Track file event subscription failed", "error", err)
				}
				return
			}
		}
	}()
}

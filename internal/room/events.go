package room

type EventType string

const (
	EvtRoomCreated EventType = "RoomCreated"
	EvtRoomJoined  EventType = "RoomJoined"
	EvtRoomLeft    EventType = "RoomLeft"
	EvtRoomClosed  EventType = "RoomClosed"
)

// Event is emitted after the registry has applied a mutation.
// UserID is the user the event is about (host for created/closed).
type Event struct {
	Type   EventType
	Room   Room
	UserID string
}

type EventSink interface {
	HandleRoomEvent(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) HandleRoomEvent(e Event) { f(e) }

package ami

import (
	"slices"
	"time"

	"github.com/sebas/opdesk/internal/panel/state"
)

// resyncBuffer aggregates the replies of the three state lists into one
// replacement image. It is touched only by the connection's read loop.
type resyncBuffer struct {
	at        time.Time
	extDone   bool
	chanDone  bool
	queueDone bool

	extensions map[string]state.Extension
	calls      map[string]state.Call
	order      []string // call IDs in arrival order
	queues     []state.Queue
	members    []state.QueueMember
	entries    []state.QueueEntry
}

// newResyncBuffer seeds the image with every directory extension so lines
// the switch says nothing about still appear, as unavailable.
func (c *Client) newResyncBuffer(at time.Time) *resyncBuffer {
	b := &resyncBuffer{
		at:         at,
		extensions: make(map[string]state.Extension, len(c.monitored)),
		calls:      map[string]state.Call{},
	}
	for number, name := range c.monitored {
		b.extensions[number] = state.Extension{
			Number: number,
			Name:   name,
			Status: state.StatusUnavailable,
		}
	}
	return b
}

// collect folds one frame into the image. It reports whether the frame
// belonged to a list reply; anything else flows on to the event translator.
func (b *resyncBuffer) collect(f Frame) bool {
	switch f.Name() {
	case "ExtensionStatus":
		number := f.Get("Exten")
		ext, ok := b.extensions[number]
		if !ok {
			// Not in the directory; the store would drop it anyway.
			return true
		}
		ext.Status = state.StatusFromCode(f.Get("Status"))
		b.extensions[number] = ext
		return true

	case "ExtensionStateListComplete":
		b.extDone = true
		return true

	case "CoreShowChannel":
		b.collectChannel(f)
		return true

	case "CoreShowChannelsComplete":
		b.chanDone = true
		return true

	case "QueueParams":
		b.queues = append(b.queues, state.Queue{
			Name:      f.Get("Queue"),
			Strategy:  f.Get("Strategy"),
			Completed: atoi(f.Get("Completed")),
			Abandoned: atoi(f.Get("Abandoned")),
		})
		return true

	case "QueueMember":
		b.members = append(b.members, memberFromFrame(f))
		return true

	case "QueueEntry":
		wait := time.Duration(atoi(f.Get("Wait"))) * time.Second
		b.entries = append(b.entries, state.QueueEntry{
			Queue:       f.Get("Queue"),
			ID:          f.Get("Uniqueid"),
			Position:    atoi(f.Get("Position")),
			Caller:      state.Endpoint{Number: f.Get("CallerIDNum"), Name: f.Get("CallerIDName")},
			WaitedSince: b.at.Add(-wait),
		})
		return true

	case "QueueStatusComplete":
		b.queueDone = true
		return true
	}
	return false
}

// collectChannel merges one channel listing into its logical call. The
// originating leg carries the authoritative endpoints; other legs only
// upgrade the call state.
func (b *resyncBuffer) collectChannel(f Frame) {
	id := callID(f)
	if id == "" {
		return
	}
	call, ok := b.calls[id]
	if !ok {
		call = state.Call{
			ID:        id,
			StartedAt: b.at.Add(-parseClock(f.Get("Duration"))),
		}
		b.order = append(b.order, id)
	}

	if leg := f.Get("Uniqueid"); leg != "" && !slices.Contains(call.Legs, leg) {
		call.Legs = append(call.Legs, leg)
	}

	primary := f.Get("Uniqueid") == f.Get("Linkedid") || f.Get("Linkedid") == ""
	if primary || call.Caller.Number == "" {
		call.Caller = state.Endpoint{Number: f.Get("CallerIDNum"), Name: f.Get("CallerIDName")}
		call.Callee = state.Endpoint{Number: f.Get("ConnectedLineNum"), Name: f.Get("ConnectedLineName")}
	}

	switch f.Get("ChannelStateDesc") {
	case "Up":
		call.State = state.CallStateUp
	case "Ringing":
		if call.State != state.CallStateUp {
			call.State = state.CallStateRinging
		}
	default:
		if call.State == "" {
			call.State = state.CallStateDialing
		}
	}
	b.calls[id] = call
}

func (b *resyncBuffer) complete() bool {
	return b.extDone && b.chanDone && b.queueDone
}

// replaceAll builds the replacement event. Call participants are left for
// the store to derive from the assembled extension set.
func (b *resyncBuffer) replaceAll() state.ReplaceAllEvent {
	ev := state.ReplaceAllEvent{
		Base:       state.Base{At: b.at},
		Extensions: make([]state.Extension, 0, len(b.extensions)),
		Calls:      make([]state.Call, 0, len(b.calls)),
		Queues:     b.queues,
		Members:    b.members,
		Entries:    b.entries,
	}
	for _, ext := range b.extensions {
		ev.Extensions = append(ev.Extensions, ext)
	}
	for _, id := range b.order {
		ev.Calls = append(ev.Calls, b.calls[id])
	}
	return ev
}

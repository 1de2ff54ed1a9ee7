package state

import "time"

// Kind identifies the type of a switch event.
type Kind string

const (
	KindReplaceAll        Kind = "state.replace_all"
	KindLinkDown          Kind = "link.down"
	KindExtensionStatus   Kind = "extension.status"
	KindCallDialed        Kind = "call.dialed"
	KindCallRinging       Kind = "call.ringing"
	KindCallBridged       Kind = "call.bridged"
	KindCallHeld          Kind = "call.held"
	KindCallResumed       Kind = "call.resumed"
	KindCallHungup        Kind = "call.hungup"
	KindQueueParams       Kind = "queue.params"
	KindQueueMember       Kind = "queue.member"
	KindQueueMemberGone   Kind = "queue.member_removed"
	KindQueueMemberPaused Kind = "queue.member_paused"
	KindQueueJoin         Kind = "queue.caller_join"
	KindQueueLeave        Kind = "queue.caller_leave"
)

// Event is a single state mutation produced by the switch link and consumed
// by the store's writer.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

// Base carries the fields common to all events.
type Base struct {
	At time.Time
}

// OccurredAt returns the event timestamp.
func (b Base) OccurredAt() time.Time { return b.At }

// ReplaceAllEvent swaps the entire known state for the carried image. It is
// emitted after every successful synchronization with the switch.
type ReplaceAllEvent struct {
	Base
	Extensions []Extension
	Calls      []Call
	Queues     []Queue
	Members    []QueueMember
	Entries    []QueueEntry
}

func (ReplaceAllEvent) Kind() Kind { return KindReplaceAll }

// LinkDownEvent marks the switch link as lost. State is kept but flagged
// stale until the next ReplaceAllEvent.
type LinkDownEvent struct {
	Base
	Reason string
}

func (LinkDownEvent) Kind() Kind { return KindLinkDown }

// ExtensionStatusEvent reports a device-state change for one extension.
// Events for unmonitored extensions are ignored by the store.
type ExtensionStatusEvent struct {
	Base
	Number string
	Status Status
}

func (ExtensionStatusEvent) Kind() Kind { return KindExtensionStatus }

// CallDialedEvent creates an active call. A repeat for a known call ID adds
// the new leg; exact duplicates are no-ops.
type CallDialedEvent struct {
	Base
	ID string
	// Leg is the channel identifier of the originating channel.
	Leg    string
	Caller Endpoint
	Callee Endpoint
	State  CallState
}

func (CallDialedEvent) Kind() Kind { return KindCallDialed }

// CallRingingEvent moves a dialing call to ringing.
type CallRingingEvent struct {
	Base
	ID string
}

func (CallRingingEvent) Kind() Kind { return KindCallRinging }

// CallBridgedEvent marks a call answered. The answered timestamp is set on
// the first bridge only. Extension, when monitored, joins the participant
// set.
type CallBridgedEvent struct {
	Base
	ID        string
	Extension string
}

func (CallBridgedEvent) Kind() Kind { return KindCallBridged }

// CallHeldEvent puts a call on hold.
type CallHeldEvent struct {
	Base
	ID string
}

func (CallHeldEvent) Kind() Kind { return KindCallHeld }

// CallResumedEvent takes a call off hold.
type CallResumedEvent struct {
	Base
	ID string
}

func (CallResumedEvent) Kind() Kind { return KindCallResumed }

// CallHungupEvent removes one leg from a call: Extension leaves the
// participant set and Leg leaves the tracked channels. The call itself is
// removed once both sets are empty.
type CallHungupEvent struct {
	Base
	ID        string
	Leg       string
	Extension string
	Cause     string
}

func (CallHungupEvent) Kind() Kind { return KindCallHungup }

// QueueParamsEvent upserts queue parameters and counters.
type QueueParamsEvent struct {
	Base
	Name      string
	Strategy  string
	Completed int
	Abandoned int
}

func (QueueParamsEvent) Kind() Kind { return KindQueueParams }

// QueueMemberEvent upserts one queue membership. The queue is created on
// demand when the switch reports a member for a queue not yet known.
type QueueMemberEvent struct {
	Base
	Member QueueMember
}

func (QueueMemberEvent) Kind() Kind { return KindQueueMember }

// QueueMemberGoneEvent removes one queue membership.
type QueueMemberGoneEvent struct {
	Base
	Queue string
	Iface string
}

func (QueueMemberGoneEvent) Kind() Kind { return KindQueueMemberGone }

// QueueMemberPausedEvent toggles the paused flag of an existing membership.
type QueueMemberPausedEvent struct {
	Base
	Queue  string
	Iface  string
	Paused bool
	Reason string
}

func (QueueMemberPausedEvent) Kind() Kind { return KindQueueMemberPaused }

// QueueJoinEvent adds a waiting caller to a queue.
type QueueJoinEvent struct {
	Base
	Entry QueueEntry
}

func (QueueJoinEvent) Kind() Kind { return KindQueueJoin }

// QueueLeaveEvent removes a waiting caller, either because an agent took the
// call or because the caller abandoned.
type QueueLeaveEvent struct {
	Base
	Queue     string
	ID        string
	Abandoned bool
}

func (QueueLeaveEvent) Kind() Kind { return KindQueueLeave }

// Package v1 defines the versioned wire types exchanged with panel
// subscribers over the WebSocket and HTTP surfaces. Every payload is plain
// JSON; durations are never sent, only timestamps, so two marshals of the
// same view are byte-identical.
package v1

import "time"

// Message types carried in the "type" field of every outbound frame.
const (
	TypeState        = "state"
	TypeDiff         = "diff"
	TypeActionResult = "action_result"
	TypeNotification = "notification"
)

// Subscriber action names carried in the "action" field of inbound frames.
const (
	ActionGetState     = "get_state"
	ActionSync         = "sync"
	ActionListen       = "listen"
	ActionWhisper      = "whisper"
	ActionBarge        = "barge"
	ActionQueueAdd     = "queue_add"
	ActionQueueRemove  = "queue_remove"
	ActionQueuePause   = "queue_pause"
	ActionQueueUnpause = "queue_unpause"
)

// Extension is one monitored line as seen by a subscriber.
type Extension struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
	// Peer is the far-end number when the extension is on a call. Omitted
	// when the far end is a line outside the subscriber's scope.
	Peer  string    `json:"peer,omitempty"`
	Since time.Time `json:"since,omitzero"`
}

// CallParty identifies one end of a call.
type CallParty struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// Call is one active call visible to the subscriber.
type Call struct {
	ID           string    `json:"id"`
	Caller       CallParty `json:"caller"`
	Callee       CallParty `json:"callee"`
	State        string    `json:"state"`
	Participants []string  `json:"participants,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	AnsweredAt   time.Time `json:"answered_at,omitzero"`
}

// Queue is one call queue with its live aggregates.
type Queue struct {
	Name             string    `json:"name"`
	Strategy         string    `json:"strategy,omitempty"`
	Waiting          int       `json:"waiting"`
	Completed        int       `json:"completed"`
	Abandoned        int       `json:"abandoned"`
	LongestWaitSince time.Time `json:"longest_wait_since,omitzero"`
}

// QueueMember is one agent membership in a queue.
type QueueMember struct {
	Queue       string    `json:"queue"`
	Interface   string    `json:"interface"`
	Extension   string    `json:"extension,omitempty"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status"`
	Paused      bool      `json:"paused"`
	PauseReason string    `json:"pause_reason,omitempty"`
	Penalty     int       `json:"penalty,omitempty"`
	CallsTaken  int       `json:"calls_taken"`
	LastCallAt  time.Time `json:"last_call_at,omitzero"`
}

// QueueEntry is one caller waiting in a queue.
type QueueEntry struct {
	Queue       string    `json:"queue"`
	ID          string    `json:"id"`
	Position    int       `json:"position"`
	Caller      CallParty `json:"caller"`
	WaitedSince time.Time `json:"waited_since,omitzero"`
}

// Stats summarizes the subscriber's view. Counts are computed after scope
// filtering, so they never reveal entities the subscriber cannot see.
type Stats struct {
	TotalExtensions int  `json:"total_extensions"`
	ActiveCalls     int  `json:"active_calls_count"`
	TotalQueues     int  `json:"total_queues"`
	TotalWaiting    int  `json:"total_waiting"`
	Stale           bool `json:"stale"`
}

// View is the complete scope-filtered panel state at a single revision.
// Collections are keyed by entity identity: extension number, call ID, queue
// name, "queue/interface" for members and entry ID for waiting callers.
type View struct {
	Revision     uint64                 `json:"revision"`
	Extensions   map[string]Extension   `json:"extensions"`
	ActiveCalls  map[string]Call        `json:"active_calls"`
	Queues       map[string]Queue       `json:"queues"`
	QueueMembers map[string]QueueMember `json:"queue_members"`
	QueueEntries map[string]QueueEntry  `json:"queue_entries"`
	Stats        Stats                  `json:"stats"`
}

// StateMessage replaces the subscriber's entire view.
type StateMessage struct {
	Type string `json:"type"`
	View
}

// ViewDelta holds per-collection upserts inside a diff.
type ViewDelta struct {
	Extensions   map[string]Extension   `json:"extensions,omitempty"`
	ActiveCalls  map[string]Call        `json:"active_calls,omitempty"`
	Queues       map[string]Queue       `json:"queues,omitempty"`
	QueueMembers map[string]QueueMember `json:"queue_members,omitempty"`
	QueueEntries map[string]QueueEntry  `json:"queue_entries,omitempty"`
	Stats        *Stats                 `json:"stats,omitempty"`
}

// DiffMessage carries the changes between two consecutive deliveries to one
// subscriber. Removed identifies entities as "collection/id", for example
// "extensions/1002" or "active_calls/1700000000.42".
type DiffMessage struct {
	Type     string     `json:"type"`
	Revision uint64     `json:"revision"`
	Added    *ViewDelta `json:"added,omitempty"`
	Changed  *ViewDelta `json:"changed,omitempty"`
	Removed  []string   `json:"removed,omitempty"`
}

// ActionRequest is an inbound subscriber frame.
type ActionRequest struct {
	Action string `json:"action"`
	// Target is the extension to listen to, whisper to or barge into.
	Target string `json:"target,omitempty"`
	// Queue and Interface address queue membership actions.
	Queue      string `json:"queue,omitempty"`
	Interface  string `json:"interface,omitempty"`
	Penalty    *int   `json:"penalty,omitempty"`
	MemberName string `json:"member_name,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ActionResultMessage acknowledges an ActionRequest. Success means the
// command was handed to the switch; the real effect arrives later as state
// changes.
type ActionResultMessage struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NotificationMessage carries free-form text for the subscriber.
type NotificationMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewStateMessage wraps a view in its wire envelope.
func NewStateMessage(v View) StateMessage {
	return StateMessage{Type: TypeState, View: v}
}

// NewActionResult builds an acknowledgement frame.
func NewActionResult(action string, success bool, message string) ActionResultMessage {
	return ActionResultMessage{Type: TypeActionResult, Action: action, Success: success, Message: message}
}

// NewNotification builds a notification frame.
func NewNotification(text string) NotificationMessage {
	return NotificationMessage{Type: TypeNotification, Text: text}
}

package state

import "time"

// Status is the presence of an extension or queue member.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRinging     Status = "ringing"
	StatusInCall      Status = "in_call"
	StatusOnHold      Status = "on_hold"
	StatusUnavailable Status = "unavailable"
)

// StatusFromCode maps switch device-state codes to a Status.
func StatusFromCode(code string) Status {
	switch code {
	case "0":
		return StatusIdle
	case "1", "2":
		return StatusInCall
	case "8":
		return StatusRinging
	case "16", "32":
		return StatusOnHold
	default:
		// "4", "-1" and anything unrecognized
		return StatusUnavailable
	}
}

// CallState is the lifecycle phase of an active call.
type CallState string

const (
	CallStateDialing CallState = "dialing"
	CallStateRinging CallState = "ringing"
	CallStateUp      CallState = "up"
	CallStateOnHold  CallState = "on_hold"
)

// Endpoint identifies one end of a call by number and optional display name.
type Endpoint struct {
	Number string
	Name   string
}

// Extension is one monitored line.
type Extension struct {
	Number string
	Name   string
	Status Status
	// Peer is the far-end number of the call the extension is on, derived
	// from call membership. Empty when idle.
	Peer  string
	Since time.Time
}

// Call is one active call. Participants holds the monitored extension
// numbers taking part; external endpoints are never participants.
type Call struct {
	ID           string
	Caller       Endpoint
	Callee       Endpoint
	State        CallState
	Participants []string
	// Legs holds the live channel identifiers of the call, including legs
	// owned by endpoints the panel does not monitor.
	Legs      []string
	StartedAt time.Time
	// AnsweredAt is set when the call is first bridged and never changes
	// afterwards.
	AnsweredAt time.Time
}

// Queue is one call queue. Waiting and LongestWaitSince are derived from the
// queue's entries; Completed and Abandoned are switch-reported counters.
type Queue struct {
	Name             string
	Strategy         string
	Waiting          int
	Completed        int
	Abandoned        int
	LongestWaitSince time.Time
}

// QueueMember is one agent membership in a queue.
type QueueMember struct {
	Queue       string
	Iface       string
	Extension   string
	Name        string
	Status      Status
	Paused      bool
	PauseReason string
	Penalty     int
	CallsTaken  int
	LastCallAt  time.Time
}

// QueueEntry is one caller waiting in a queue.
type QueueEntry struct {
	Queue       string
	ID          string
	Position    int
	Caller      Endpoint
	WaitedSince time.Time
}

// MemberKey builds the map key for a queue membership.
func MemberKey(queue, iface string) string {
	return queue + "/" + iface
}

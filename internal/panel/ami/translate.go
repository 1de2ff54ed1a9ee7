package ami

import (
	"strconv"
	"strings"
	"time"

	"github.com/sebas/opdesk/internal/panel/state"
)

// translateEvent converts one stream event frame into a state event. A nil
// return means the frame carries nothing the panel tracks. Filtering of
// unmonitored extensions is the store's job, not ours.
func translateEvent(f Frame, now time.Time) state.Event {
	base := state.Base{At: now}

	switch f.Name() {
	case "ExtensionStatus":
		return state.ExtensionStatusEvent{
			Base:   base,
			Number: f.Get("Exten"),
			Status: state.StatusFromCode(f.Get("Status")),
		}

	case "Newchannel":
		return state.CallDialedEvent{
			Base:   base,
			ID:     callID(f),
			Leg:    f.Get("Uniqueid"),
			Caller: state.Endpoint{Number: f.Get("CallerIDNum"), Name: f.Get("CallerIDName")},
			Callee: state.Endpoint{Number: f.Get("Exten")},
			State:  state.CallStateDialing,
		}

	case "DialBegin":
		return state.CallRingingEvent{Base: base, ID: callID(f)}

	case "BridgeEnter":
		return state.CallBridgedEvent{
			Base:      base,
			ID:        callID(f),
			Extension: extFromChannel(f.Get("Channel")),
		}

	case "Hold":
		return state.CallHeldEvent{Base: base, ID: callID(f)}

	case "Unhold":
		return state.CallResumedEvent{Base: base, ID: callID(f)}

	case "Hangup":
		cause := f.Get("Cause-txt")
		if cause == "" {
			cause = f.Get("Cause")
		}
		return state.CallHungupEvent{
			Base:      base,
			ID:        callID(f),
			Leg:       f.Get("Uniqueid"),
			Extension: extFromChannel(f.Get("Channel")),
			Cause:     cause,
		}

	case "QueueMemberStatus", "QueueMemberAdded":
		return state.QueueMemberEvent{Base: base, Member: memberFromFrame(f)}

	case "QueueMemberRemoved":
		return state.QueueMemberGoneEvent{
			Base:  base,
			Queue: f.Get("Queue"),
			Iface: memberIface(f),
		}

	case "QueueMemberPause", "QueueMemberPaused":
		return state.QueueMemberPausedEvent{
			Base:   base,
			Queue:  f.Get("Queue"),
			Iface:  memberIface(f),
			Paused: f.Get("Paused") == "1",
			Reason: f.Get("PausedReason"),
		}

	case "QueueCallerJoin", "Join":
		return state.QueueJoinEvent{Base: base, Entry: state.QueueEntry{
			Queue:       f.Get("Queue"),
			ID:          f.Get("Uniqueid"),
			Position:    atoi(f.Get("Position")),
			Caller:      state.Endpoint{Number: f.Get("CallerIDNum"), Name: f.Get("CallerIDName")},
			WaitedSince: now,
		}}

	case "QueueCallerLeave", "Leave":
		return state.QueueLeaveEvent{
			Base:  base,
			Queue: f.Get("Queue"),
			ID:    f.Get("Uniqueid"),
		}

	case "QueueCallerAbandon":
		return state.QueueLeaveEvent{
			Base:      base,
			Queue:     f.Get("Queue"),
			ID:        f.Get("Uniqueid"),
			Abandoned: true,
		}
	}
	return nil
}

// callID correlates legs of one logical call.
func callID(f Frame) string {
	if id := f.Get("Linkedid"); id != "" {
		return id
	}
	return f.Get("Uniqueid")
}

// extFromChannel extracts the extension number from a channel name such as
// "PJSIP/1001-00000abc" or "Local/1001@agents-00000042;2".
func extFromChannel(channel string) string {
	_, rest, ok := strings.Cut(channel, "/")
	if !ok {
		return ""
	}
	if idx := strings.LastIndex(rest, "-"); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.Index(rest, "@"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// memberIface returns the member interface, tolerating the older field name.
func memberIface(f Frame) string {
	if iface := f.Get("Interface"); iface != "" {
		return iface
	}
	return f.Get("Location")
}

// memberFromFrame builds a queue member from either a QueueMember list item
// or a QueueMemberStatus stream event; both carry the same fields.
func memberFromFrame(f Frame) state.QueueMember {
	iface := memberIface(f)
	name := f.Get("MemberName")
	if name == "" {
		name = f.Get("Name")
	}
	var lastCall time.Time
	if n := atoi64(f.Get("LastCall")); n > 0 {
		lastCall = time.Unix(n, 0).UTC()
	}
	return state.QueueMember{
		Queue:       f.Get("Queue"),
		Iface:       iface,
		Extension:   extFromChannel(iface),
		Name:        name,
		Status:      state.StatusFromCode(f.Get("Status")),
		Paused:      f.Get("Paused") == "1",
		PauseReason: f.Get("PausedReason"),
		Penalty:     atoi(f.Get("Penalty")),
		CallsTaken:  atoi(f.Get("CallsTaken")),
		LastCallAt:  lastCall,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// parseClock parses the "HH:MM:SS" durations CoreShowChannel reports.
func parseClock(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, m, sec := atoi(parts[0]), atoi(parts[1]), atoi(parts[2])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

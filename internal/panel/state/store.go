package state

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one immutable image of the panel state. Readers share
// snapshots freely; all maps and slices inside must be treated read-only.
type Snapshot struct {
	// Revision increases by one for every applied mutation and survives
	// resynchronization.
	Revision uint64
	// Baseline is the revision of the most recent full replacement. A
	// subscriber whose last delivered revision is below Baseline cannot be
	// updated with a diff.
	Baseline uint64
	// Stale is set while the switch link is down.
	Stale bool

	Extensions map[string]Extension
	Calls      map[string]Call
	Queues     map[string]Queue
	// Members is keyed by MemberKey, Entries by entry ID.
	Members map[string]QueueMember
	Entries map[string]QueueEntry
}

func (snap *Snapshot) clone() *Snapshot {
	next := *snap
	return &next
}

// Store holds the current snapshot. Exactly one goroutine calls Apply; any
// number of goroutines read via Snapshot and Subscribe.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewStore returns a store with an empty, stale snapshot at revision zero.
func NewStore() *Store {
	s := &Store{subs: make(map[int]chan struct{})}
	s.current.Store(&Snapshot{
		Stale:      true,
		Extensions: map[string]Extension{},
		Calls:      map[string]Call{},
		Queues:     map[string]Queue{},
		Members:    map[string]QueueMember{},
		Entries:    map[string]QueueEntry{},
	})
	return s
}

// Snapshot returns the current immutable state image.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe registers interest in state changes. The returned channel holds
// at most one pending signal, so bursts of mutations coalesce. The cancel
// function releases the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Apply folds one event into the state. Mutations produce a fresh snapshot
// with the next revision; events that change nothing leave the current
// snapshot in place.
func (s *Store) Apply(ev Event) {
	cur := s.current.Load()
	next := mutate(cur, ev)
	if next == nil {
		return
	}
	next.Revision = cur.Revision + 1
	if ev.Kind() == KindReplaceAll {
		next.Baseline = next.Revision
	}
	s.current.Store(next)
	s.notifyAll()
}

func mutate(cur *Snapshot, ev Event) *Snapshot {
	switch e := ev.(type) {
	case ReplaceAllEvent:
		return replaceAll(e)

	case LinkDownEvent:
		if cur.Stale {
			return nil
		}
		next := cur.clone()
		next.Stale = true
		return next

	case ExtensionStatusEvent:
		ext, ok := cur.Extensions[e.Number]
		if !ok || ext.Status == e.Status {
			return nil
		}
		next := cur.clone()
		next.Extensions = maps.Clone(cur.Extensions)
		ext.Status = e.Status
		ext.Since = e.At
		next.Extensions[e.Number] = ext
		return next

	case CallDialedEvent:
		if call, ok := cur.Calls[e.ID]; ok {
			if e.Leg == "" || slices.Contains(call.Legs, e.Leg) {
				return nil
			}
			call.Legs = append(slices.Clone(call.Legs), e.Leg)
			next := cur.clone()
			next.Calls = maps.Clone(cur.Calls)
			next.Calls[e.ID] = call
			return next
		}
		st := e.State
		if st == "" {
			st = CallStateDialing
		}
		call := Call{
			ID:           e.ID,
			Caller:       e.Caller,
			Callee:       e.Callee,
			State:        st,
			Participants: participantsFor(cur, e.Caller.Number, e.Callee.Number),
			StartedAt:    e.At,
		}
		if e.Leg != "" {
			call.Legs = []string{e.Leg}
		}
		next := cur.clone()
		next.Calls = maps.Clone(cur.Calls)
		next.Calls[e.ID] = call
		next.Extensions = maps.Clone(cur.Extensions)
		setPeers(next, call)
		return next

	case CallRingingEvent:
		call, ok := cur.Calls[e.ID]
		if !ok || call.State != CallStateDialing {
			return nil
		}
		call.State = CallStateRinging
		next := cur.clone()
		next.Calls = maps.Clone(cur.Calls)
		next.Calls[e.ID] = call
		return next

	case CallBridgedEvent:
		call, ok := cur.Calls[e.ID]
		if !ok {
			return nil
		}
		changed := false
		if call.AnsweredAt.IsZero() {
			call.AnsweredAt = e.At
			changed = true
		}
		if call.State != CallStateUp {
			call.State = CallStateUp
			changed = true
		}
		joined := false
		if e.Extension != "" && !slices.Contains(call.Participants, e.Extension) {
			if _, known := cur.Extensions[e.Extension]; known {
				parts := slices.Clone(call.Participants)
				call.Participants = append(parts, e.Extension)
				joined = true
				changed = true
			}
		}
		if !changed {
			return nil
		}
		next := cur.clone()
		next.Calls = maps.Clone(cur.Calls)
		next.Calls[e.ID] = call
		if joined {
			next.Extensions = maps.Clone(cur.Extensions)
			setPeers(next, call)
		}
		return next

	case CallHeldEvent:
		call, ok := cur.Calls[e.ID]
		if !ok || call.State == CallStateOnHold {
			return nil
		}
		call.State = CallStateOnHold
		next := cur.clone()
		next.Calls = maps.Clone(cur.Calls)
		next.Calls[e.ID] = call
		return next

	case CallResumedEvent:
		call, ok := cur.Calls[e.ID]
		if !ok || call.State != CallStateOnHold {
			return nil
		}
		call.State = CallStateUp
		next := cur.clone()
		next.Calls = maps.Clone(cur.Calls)
		next.Calls[e.ID] = call
		return next

	case CallHungupEvent:
		call, ok := cur.Calls[e.ID]
		if !ok {
			return nil
		}
		legGone := false
		if e.Leg != "" {
			if idx := slices.Index(call.Legs, e.Leg); idx >= 0 {
				call.Legs = slices.Delete(slices.Clone(call.Legs), idx, idx+1)
				legGone = true
			}
		}
		left := false
		if e.Extension != "" {
			if idx := slices.Index(call.Participants, e.Extension); idx >= 0 {
				parts := slices.Clone(call.Participants)
				call.Participants = slices.Delete(parts, idx, idx+1)
				left = true
			}
		}
		remove := len(call.Participants) == 0 && len(call.Legs) == 0
		if !left && !legGone && !remove {
			// Some unknown leg ended; the call carries on.
			return nil
		}
		next := cur.clone()
		next.Calls = maps.Clone(cur.Calls)
		if remove {
			delete(next.Calls, e.ID)
		} else {
			next.Calls[e.ID] = call
		}
		if left {
			next.Extensions = maps.Clone(cur.Extensions)
			recomputePeer(next, e.Extension)
		}
		return next

	case QueueParamsEvent:
		q := cur.Queues[e.Name]
		q.Name = e.Name
		q.Strategy = e.Strategy
		q.Completed = e.Completed
		q.Abandoned = e.Abandoned
		if existing, ok := cur.Queues[e.Name]; ok && existing == q {
			return nil
		}
		next := cur.clone()
		next.Queues = maps.Clone(cur.Queues)
		next.Queues[e.Name] = q
		return next

	case QueueMemberEvent:
		key := MemberKey(e.Member.Queue, e.Member.Iface)
		if existing, ok := cur.Members[key]; ok && existing == e.Member {
			return nil
		}
		next := cur.clone()
		next.Members = maps.Clone(cur.Members)
		next.Members[key] = e.Member
		if _, ok := cur.Queues[e.Member.Queue]; !ok {
			next.Queues = maps.Clone(cur.Queues)
			next.Queues[e.Member.Queue] = Queue{Name: e.Member.Queue}
		}
		return next

	case QueueMemberGoneEvent:
		key := MemberKey(e.Queue, e.Iface)
		if _, ok := cur.Members[key]; !ok {
			return nil
		}
		next := cur.clone()
		next.Members = maps.Clone(cur.Members)
		delete(next.Members, key)
		return next

	case QueueMemberPausedEvent:
		key := MemberKey(e.Queue, e.Iface)
		m, ok := cur.Members[key]
		if !ok || (m.Paused == e.Paused && m.PauseReason == e.Reason) {
			return nil
		}
		m.Paused = e.Paused
		m.PauseReason = e.Reason
		next := cur.clone()
		next.Members = maps.Clone(cur.Members)
		next.Members[key] = m
		return next

	case QueueJoinEvent:
		if existing, ok := cur.Entries[e.Entry.ID]; ok && existing == e.Entry {
			return nil
		}
		next := cur.clone()
		next.Entries = maps.Clone(cur.Entries)
		next.Entries[e.Entry.ID] = e.Entry
		next.Queues = maps.Clone(cur.Queues)
		if _, ok := next.Queues[e.Entry.Queue]; !ok {
			next.Queues[e.Entry.Queue] = Queue{Name: e.Entry.Queue}
		}
		refreshQueueWait(next, e.Entry.Queue)
		return next

	case QueueLeaveEvent:
		entry, ok := cur.Entries[e.ID]
		if !ok {
			return nil
		}
		next := cur.clone()
		next.Entries = maps.Clone(cur.Entries)
		delete(next.Entries, e.ID)
		// Callers behind the leaver move up one position.
		for id, other := range next.Entries {
			if other.Queue == entry.Queue && other.Position > entry.Position {
				other.Position--
				next.Entries[id] = other
			}
		}
		next.Queues = maps.Clone(cur.Queues)
		refreshQueueWait(next, entry.Queue)
		if e.Abandoned {
			q := next.Queues[entry.Queue]
			q.Abandoned++
			next.Queues[entry.Queue] = q
		}
		return next
	}
	return nil
}

func replaceAll(e ReplaceAllEvent) *Snapshot {
	next := &Snapshot{
		Extensions: make(map[string]Extension, len(e.Extensions)),
		Calls:      make(map[string]Call, len(e.Calls)),
		Queues:     make(map[string]Queue, len(e.Queues)),
		Members:    make(map[string]QueueMember, len(e.Members)),
		Entries:    make(map[string]QueueEntry, len(e.Entries)),
	}
	for _, ext := range e.Extensions {
		next.Extensions[ext.Number] = ext
	}
	for _, q := range e.Queues {
		next.Queues[q.Name] = q
	}
	for _, m := range e.Members {
		next.Members[MemberKey(m.Queue, m.Iface)] = m
		if _, ok := next.Queues[m.Queue]; !ok {
			next.Queues[m.Queue] = Queue{Name: m.Queue}
		}
	}
	for _, en := range e.Entries {
		next.Entries[en.ID] = en
		if _, ok := next.Queues[en.Queue]; !ok {
			next.Queues[en.Queue] = Queue{Name: en.Queue}
		}
	}
	for _, call := range e.Calls {
		if len(call.Participants) == 0 {
			call.Participants = participantsFor(next, call.Caller.Number, call.Callee.Number)
		}
		next.Calls[call.ID] = call
		setPeers(next, call)
	}
	for name := range next.Queues {
		refreshQueueWait(next, name)
	}
	return next
}

// participantsFor returns the monitored extensions among the given numbers.
func participantsFor(snap *Snapshot, numbers ...string) []string {
	var parts []string
	for _, n := range numbers {
		if n == "" || slices.Contains(parts, n) {
			continue
		}
		if _, ok := snap.Extensions[n]; ok {
			parts = append(parts, n)
		}
	}
	return parts
}

// setPeers points every participant of the call at its far end. The
// Extensions map of next must already be writable.
func setPeers(next *Snapshot, call Call) {
	for _, p := range call.Participants {
		ext, ok := next.Extensions[p]
		if !ok {
			continue
		}
		far := call.Caller.Number
		if p == call.Caller.Number {
			far = call.Callee.Number
		}
		ext.Peer = far
		next.Extensions[p] = ext
	}
}

// recomputePeer rederives the peer of one extension from the calls it still
// participates in. The Extensions map of next must already be writable.
func recomputePeer(next *Snapshot, number string) {
	ext, ok := next.Extensions[number]
	if !ok {
		return
	}
	ext.Peer = ""
	for _, call := range next.Calls {
		if slices.Contains(call.Participants, number) {
			if number == call.Caller.Number {
				ext.Peer = call.Callee.Number
			} else {
				ext.Peer = call.Caller.Number
			}
			break
		}
	}
	next.Extensions[number] = ext
}

// refreshQueueWait recomputes the waiting count and longest-wait marker of
// one queue from its entries. The Queues map of next must already be
// writable.
func refreshQueueWait(next *Snapshot, name string) {
	q, ok := next.Queues[name]
	if !ok {
		return
	}
	waiting := 0
	var oldest time.Time
	for _, en := range next.Entries {
		if en.Queue != name {
			continue
		}
		waiting++
		if oldest.IsZero() || en.WaitedSince.Before(oldest) {
			oldest = en.WaitedSince
		}
	}
	q.Waiting = waiting
	q.LongestWaitSince = oldest
	next.Queues[name] = q
}

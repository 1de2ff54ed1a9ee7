// Package view turns state snapshots into the scope-filtered projections
// delivered to subscribers and computes the diffs between consecutive
// deliveries. Projection is deterministic: the same snapshot and scope
// always produce the same view, and equal views marshal to identical bytes.
package view

import (
	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/state"
)

// Project builds the view a subscriber with the given predicate sees of the
// snapshot. The returned view is shared between subscribers and must be
// treated read-only.
func Project(snap *state.Snapshot, pred *scope.Predicate) *v1.View {
	v := &v1.View{
		Revision:     snap.Revision,
		Extensions:   map[string]v1.Extension{},
		ActiveCalls:  map[string]v1.Call{},
		Queues:       map[string]v1.Queue{},
		QueueMembers: map[string]v1.QueueMember{},
		QueueEntries: map[string]v1.QueueEntry{},
	}

	for num, ext := range snap.Extensions {
		if !pred.Extension(num) {
			continue
		}
		v.Extensions[num] = projectExtension(snap, pred, ext)
	}

	for id, call := range snap.Calls {
		if !pred.Call(call.Participants) {
			continue
		}
		v.ActiveCalls[id] = v1.Call{
			ID:           call.ID,
			Caller:       v1.CallParty{Number: call.Caller.Number, Name: call.Caller.Name},
			Callee:       v1.CallParty{Number: call.Callee.Number, Name: call.Callee.Name},
			State:        string(call.State),
			Participants: call.Participants,
			StartedAt:    call.StartedAt,
			AnsweredAt:   call.AnsweredAt,
		}
	}

	for name, q := range snap.Queues {
		if !pred.Queue(name) {
			continue
		}
		v.Queues[name] = v1.Queue{
			Name:             q.Name,
			Strategy:         q.Strategy,
			Waiting:          q.Waiting,
			Completed:        q.Completed,
			Abandoned:        q.Abandoned,
			LongestWaitSince: q.LongestWaitSince,
		}
	}

	for key, m := range snap.Members {
		if !pred.Queue(m.Queue) {
			continue
		}
		v.QueueMembers[key] = v1.QueueMember{
			Queue:       m.Queue,
			Interface:   m.Iface,
			Extension:   m.Extension,
			Name:        m.Name,
			Status:      string(m.Status),
			Paused:      m.Paused,
			PauseReason: m.PauseReason,
			Penalty:     m.Penalty,
			CallsTaken:  m.CallsTaken,
			LastCallAt:  m.LastCallAt,
		}
	}

	for id, en := range snap.Entries {
		if !pred.Queue(en.Queue) {
			continue
		}
		v.QueueEntries[id] = v1.QueueEntry{
			Queue:       en.Queue,
			ID:          en.ID,
			Position:    en.Position,
			Caller:      v1.CallParty{Number: en.Caller.Number, Name: en.Caller.Name},
			WaitedSince: en.WaitedSince,
		}
	}

	v.Stats = v1.Stats{
		TotalExtensions: len(v.Extensions),
		ActiveCalls:     len(v.ActiveCalls),
		TotalQueues:     len(v.Queues),
		TotalWaiting:    len(v.QueueEntries),
		Stale:           snap.Stale,
	}
	return v
}

// projectExtension copies one extension, hiding the peer when it is a
// monitored line outside the subscriber's scope. External numbers are call
// attributes, not scoped entities, and pass through unchanged.
func projectExtension(snap *state.Snapshot, pred *scope.Predicate, ext state.Extension) v1.Extension {
	peer := ext.Peer
	if peer != "" {
		if _, known := snap.Extensions[peer]; known && !pred.Extension(peer) {
			peer = ""
		}
	}
	return v1.Extension{
		Number: ext.Number,
		Name:   ext.Name,
		Status: string(ext.Status),
		Peer:   peer,
		Since:  ext.Since,
	}
}

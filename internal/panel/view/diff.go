package view

import (
	"reflect"
	"slices"

	v1 "github.com/sebas/opdesk/api/types/v1"
)

// Diff computes the changes a subscriber must apply to move from the prev
// view to the next one. Entities that dropped out of scope appear in
// Removed, so scope transitions never leave stale entities on the client.
func Diff(prev, next *v1.View) *v1.DiffMessage {
	d := &v1.DiffMessage{Type: v1.TypeDiff, Revision: next.Revision}
	added := &v1.ViewDelta{}
	changed := &v1.ViewDelta{}

	added.Extensions, changed.Extensions, d.Removed = diffMaps(prev.Extensions, next.Extensions, "extensions", d.Removed)
	added.ActiveCalls, changed.ActiveCalls, d.Removed = diffMaps(prev.ActiveCalls, next.ActiveCalls, "active_calls", d.Removed)
	added.Queues, changed.Queues, d.Removed = diffMaps(prev.Queues, next.Queues, "queues", d.Removed)
	added.QueueMembers, changed.QueueMembers, d.Removed = diffMaps(prev.QueueMembers, next.QueueMembers, "queue_members", d.Removed)
	added.QueueEntries, changed.QueueEntries, d.Removed = diffMaps(prev.QueueEntries, next.QueueEntries, "queue_entries", d.Removed)

	if prev.Stats != next.Stats {
		stats := next.Stats
		changed.Stats = &stats
	}

	if !deltaEmpty(added) {
		d.Added = added
	}
	if !deltaEmpty(changed) {
		d.Changed = changed
	}
	slices.Sort(d.Removed)
	return d
}

// Empty reports whether the diff carries no changes.
func Empty(d *v1.DiffMessage) bool {
	return d.Added == nil && d.Changed == nil && len(d.Removed) == 0
}

func deltaEmpty(delta *v1.ViewDelta) bool {
	return len(delta.Extensions) == 0 &&
		len(delta.ActiveCalls) == 0 &&
		len(delta.Queues) == 0 &&
		len(delta.QueueMembers) == 0 &&
		len(delta.QueueEntries) == 0 &&
		delta.Stats == nil
}

// diffMaps splits one collection into added, changed and removed sets.
// Removal keys are qualified as "collection/id".
func diffMaps[V any](prev, next map[string]V, collection string, removed []string) (map[string]V, map[string]V, []string) {
	var added, changed map[string]V
	for id, nv := range next {
		pv, ok := prev[id]
		switch {
		case !ok:
			if added == nil {
				added = map[string]V{}
			}
			added[id] = nv
		case !reflect.DeepEqual(pv, nv):
			if changed == nil {
				changed = map[string]V{}
			}
			changed[id] = nv
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, collection+"/"+id)
		}
	}
	return added, changed, removed
}

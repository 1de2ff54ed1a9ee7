// Package action turns subscriber requests into switch commands. Every
// request is validated against the operator's permissions, their visibility
// scope and the current switch state, in that order, before a command is
// produced.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/panel/ami"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/state"
)

var (
	// ErrBadRequest marks a request the operator composed wrong.
	ErrBadRequest = errors.New("bad request")
	// ErrForbidden marks an action the operator may never perform.
	ErrForbidden = errors.New("action not permitted")
	// ErrOutOfScope marks a target outside the operator's visibility.
	ErrOutOfScope = errors.New("target out of scope")
	// ErrInvalidState marks an action the current switch state cannot
	// satisfy, like listening in on an idle extension.
	ErrInvalidState = errors.New("invalid state for action")
)

// spyOptions maps the monitor actions to their spy application flags: listen
// stays silent, whisper speaks to the monitored line only, barge speaks to
// both parties.
var spyOptions = map[string]string{
	v1.ActionListen:  "q",
	v1.ActionWhisper: "qw",
	v1.ActionBarge:   "qB",
}

// Translator builds switch commands for subscriber actions.
type Translator struct {
	// Tech is the channel technology prefix for extensions.
	Tech string
}

// Translate validates one request and renders the switch command for it.
// Permission is checked before scope, and scope before state, so an operator
// never learns about out-of-scope state through error messages.
func (t Translator) Translate(id scope.Identity, pred *scope.Predicate, req v1.ActionRequest, snap *state.Snapshot) (ami.Command, error) {
	switch req.Action {
	case v1.ActionListen, v1.ActionWhisper, v1.ActionBarge:
		return t.spy(id, pred, req, snap)
	case v1.ActionQueueAdd, v1.ActionQueueRemove, v1.ActionQueuePause, v1.ActionQueueUnpause:
		return t.queueMember(id, pred, req, snap)
	}
	return ami.Command{}, fmt.Errorf("%w: unknown action %q", ErrBadRequest, req.Action)
}

func (t Translator) spy(id scope.Identity, pred *scope.Predicate, req v1.ActionRequest, snap *state.Snapshot) (ami.Command, error) {
	if !id.Allows(req.Action) {
		return ami.Command{}, fmt.Errorf("%w: %s", ErrForbidden, req.Action)
	}
	if id.Extension == "" {
		return ami.Command{}, fmt.Errorf("%w: operator has no extension to monitor from", ErrBadRequest)
	}
	if req.Target == "" {
		return ami.Command{}, fmt.Errorf("%w: missing target", ErrBadRequest)
	}
	if req.Target == id.Extension {
		return ami.Command{}, fmt.Errorf("%w: cannot monitor own extension", ErrBadRequest)
	}
	if !pred.Extension(req.Target) {
		return ami.Command{}, fmt.Errorf("%w: extension %s", ErrOutOfScope, req.Target)
	}

	ext, ok := snap.Extensions[req.Target]
	if !ok {
		return ami.Command{}, fmt.Errorf("%w: extension %s is not monitored", ErrInvalidState, req.Target)
	}
	if ext.Status != state.StatusInCall && ext.Status != state.StatusOnHold {
		return ami.Command{}, fmt.Errorf("%w: extension %s is not on a call", ErrInvalidState, req.Target)
	}

	return ami.Command{
		Action: "Originate",
		Params: map[string]string{
			"Channel":     t.channel(id.Extension),
			"Application": "ChanSpy",
			"Data":        t.channel(req.Target) + "," + spyOptions[req.Action],
			"Async":       "true",
		},
	}, nil
}

func (t Translator) queueMember(id scope.Identity, pred *scope.Predicate, req v1.ActionRequest, snap *state.Snapshot) (ami.Command, error) {
	if !id.Allows(req.Action) {
		return ami.Command{}, fmt.Errorf("%w: %s", ErrForbidden, req.Action)
	}
	if req.Queue == "" {
		return ami.Command{}, fmt.Errorf("%w: missing queue", ErrBadRequest)
	}
	iface := req.Interface
	if iface == "" && req.Target != "" {
		iface = t.channel(req.Target)
	}
	if iface == "" {
		return ami.Command{}, fmt.Errorf("%w: missing interface", ErrBadRequest)
	}
	if !pred.Queue(req.Queue) {
		return ami.Command{}, fmt.Errorf("%w: queue %s", ErrOutOfScope, req.Queue)
	}
	member := req.Target
	if member == "" {
		member = extensionOf(iface)
	}
	if member != "" && !pred.Extension(member) {
		return ami.Command{}, fmt.Errorf("%w: extension %s", ErrOutOfScope, member)
	}

	if _, ok := snap.Queues[req.Queue]; !ok {
		return ami.Command{}, fmt.Errorf("%w: unknown queue %s", ErrInvalidState, req.Queue)
	}
	_, enrolled := snap.Members[state.MemberKey(req.Queue, iface)]

	switch req.Action {
	case v1.ActionQueueAdd:
		if enrolled {
			return ami.Command{}, fmt.Errorf("%w: %s is already a member of %s", ErrInvalidState, iface, req.Queue)
		}
		params := map[string]string{
			"Queue":     req.Queue,
			"Interface": iface,
		}
		if req.Penalty != nil {
			params["Penalty"] = strconv.Itoa(*req.Penalty)
		}
		if req.MemberName != "" {
			params["MemberName"] = req.MemberName
		}
		return ami.Command{Action: "QueueAdd", Params: params}, nil

	case v1.ActionQueueRemove:
		if !enrolled {
			return ami.Command{}, fmt.Errorf("%w: %s is not a member of %s", ErrInvalidState, iface, req.Queue)
		}
		return ami.Command{Action: "QueueRemove", Params: map[string]string{
			"Queue":     req.Queue,
			"Interface": iface,
		}}, nil

	default: // pause and unpause
		if !enrolled {
			return ami.Command{}, fmt.Errorf("%w: %s is not a member of %s", ErrInvalidState, iface, req.Queue)
		}
		params := map[string]string{
			"Queue":     req.Queue,
			"Interface": iface,
			"Paused":    "false",
		}
		if req.Action == v1.ActionQueuePause {
			params["Paused"] = "true"
			if req.Reason != "" {
				params["Reason"] = req.Reason
			}
		}
		return ami.Command{Action: "QueuePause", Params: params}, nil
	}
}

func (t Translator) channel(ext string) string {
	tech := t.Tech
	if tech == "" {
		tech = "PJSIP"
	}
	return tech + "/" + ext
}

// extensionOf extracts the extension number from a member interface such as
// "PJSIP/1002" or "Local/1003@agents".
func extensionOf(iface string) string {
	_, rest, ok := strings.Cut(iface, "/")
	if !ok {
		return ""
	}
	if idx := strings.Index(rest, "@"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

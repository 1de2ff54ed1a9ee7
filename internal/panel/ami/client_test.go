package ami

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sebas/opdesk/internal/panel/state"
)

// wire drives one scripted server-side connection.
type wire struct {
	t    *testing.T
	conn net.Conn
	fr   *frameReader
}

func newWire(t *testing.T, conn net.Conn) *wire {
	return &wire{t: t, conn: conn, fr: newFrameReader(conn)}
}

func (w *wire) line(s string) {
	if _, err := w.conn.Write([]byte(s + "\r\n")); err != nil {
		w.t.Errorf("server write: %v", err)
	}
}

func (w *wire) send(lines ...string) {
	frame := strings.Join(lines, "\r\n") + "\r\n\r\n"
	if _, err := w.conn.Write([]byte(frame)); err != nil {
		w.t.Errorf("server write: %v", err)
	}
}

// expect reads command frames until one carries the wanted action.
func (w *wire) expect(action string) Frame {
	for {
		f, err := w.fr.Next()
		if err != nil {
			w.t.Errorf("server read while expecting %s: %v", action, err)
			return Frame{}
		}
		if f.Get("Action") == action {
			return f
		}
	}
}

func (w *wire) acceptLogin() {
	login := w.expect("Login")
	w.send(
		"Response: Success",
		"ActionID: "+login.Get("ActionID"),
		"Message: Authentication accepted",
	)
}

func (w *wire) expectLists() {
	w.expect("ExtensionStateList")
	w.expect("CoreShowChannels")
	w.expect("QueueStatus")
}

func waitEvent(t *testing.T, ch <-chan state.Event) state.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestClientSynchronizesOnConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		w := newWire(t, conn)
		w.line("Asterisk Call Manager/5.0.2")
		w.acceptLogin()
		w.expectLists()

		w.send("Event: ExtensionStatus", "Exten: 1001", "Status: 1")
		w.send("Event: ExtensionStateListComplete", "ListItems: 1")
		w.send(
			"Event: CoreShowChannel",
			"Channel: PJSIP/1001-00000001",
			"Uniqueid: 1710000000.1",
			"Linkedid: 1710000000.1",
			"CallerIDNum: 1001",
			"CallerIDName: Alice",
			"ConnectedLineNum: 5551234",
			"ChannelStateDesc: Up",
			"Duration: 00:01:30",
		)
		w.send("Event: CoreShowChannelsComplete", "ListItems: 1")
		w.send("Event: QueueParams", "Queue: support", "Strategy: ringall", "Completed: 10", "Abandoned: 2")
		w.send(
			"Event: QueueMember",
			"Queue: support",
			"MemberName: Alice",
			"Interface: PJSIP/1001",
			"Status: 1",
			"Paused: 0",
			"CallsTaken: 5",
		)
		w.send(
			"Event: QueueEntry",
			"Queue: support",
			"Uniqueid: 1710000002.7",
			"Position: 1",
			"CallerIDNum: 5559876",
			"CallerIDName: Customer",
			"Wait: 42",
		)
		w.send("Event: QueueStatusComplete", "ListItems: 1")

		// A live status change after the image completes.
		w.send("Event: ExtensionStatus", "Exten: 1002", "Status: 8")

		// Hold the connection until the client hangs up.
		w.fr.Next()
	}()

	c := NewClient(
		Config{Addr: ln.Addr().String(), Username: "panel", Secret: "secret"},
		map[string]string{"1001": "Alice", "1002": "Bob"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	ev := waitEvent(t, c.Events())
	ra, ok := ev.(state.ReplaceAllEvent)
	if !ok {
		t.Fatalf("first event = %T, want ReplaceAllEvent", ev)
	}

	if len(ra.Extensions) != 2 {
		t.Fatalf("len(Extensions) = %d, want 2", len(ra.Extensions))
	}
	byNumber := map[string]state.Extension{}
	for _, e := range ra.Extensions {
		byNumber[e.Number] = e
	}
	if got := byNumber["1001"].Status; got != state.StatusInCall {
		t.Errorf("1001 status = %q, want %q", got, state.StatusInCall)
	}
	if got := byNumber["1001"].Name; got != "Alice" {
		t.Errorf("1001 name = %q, want %q", got, "Alice")
	}
	if got := byNumber["1002"].Status; got != state.StatusUnavailable {
		t.Errorf("1002 status = %q, want %q (not listed by the switch)", got, state.StatusUnavailable)
	}

	if len(ra.Calls) != 1 {
		t.Fatalf("len(Calls) = %d, want 1", len(ra.Calls))
	}
	call := ra.Calls[0]
	if call.ID != "1710000000.1" {
		t.Errorf("call ID = %q, want %q", call.ID, "1710000000.1")
	}
	if call.State != state.CallStateUp {
		t.Errorf("call state = %q, want %q", call.State, state.CallStateUp)
	}
	if call.Caller.Number != "1001" || call.Callee.Number != "5551234" {
		t.Errorf("call endpoints = %s -> %s, want 1001 -> 5551234",
			call.Caller.Number, call.Callee.Number)
	}
	if call.StartedAt.IsZero() || !call.StartedAt.Before(time.Now()) {
		t.Errorf("call StartedAt = %v, want a past time", call.StartedAt)
	}

	if len(ra.Queues) != 1 || ra.Queues[0].Name != "support" || ra.Queues[0].Completed != 10 {
		t.Errorf("queues = %+v, want one support queue with 10 completed", ra.Queues)
	}
	if len(ra.Members) != 1 || ra.Members[0].Extension != "1001" {
		t.Errorf("members = %+v, want one member on 1001", ra.Members)
	}
	if len(ra.Entries) != 1 || ra.Entries[0].Position != 1 {
		t.Errorf("entries = %+v, want one waiting caller at position 1", ra.Entries)
	}

	ev = waitEvent(t, c.Events())
	st, ok := ev.(state.ExtensionStatusEvent)
	if !ok {
		t.Fatalf("second event = %T, want ExtensionStatusEvent", ev)
	}
	if st.Number != "1002" || st.Status != state.StatusRinging {
		t.Errorf("status event = %+v, want 1002 ringing", st)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientAuthFailureIsTerminal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		w := newWire(t, conn)
		w.line("Asterisk Call Manager/5.0.2")
		login := w.expect("Login")
		w.send(
			"Response: Error",
			"ActionID: "+login.Get("ActionID"),
			"Message: Authentication failed",
		)
	}()

	c := NewClient(
		Config{Addr: ln.Addr().String(), Username: "panel", Secret: "wrong"},
		nil,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("Run() = %v, want ErrAuthFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return on rejected login")
	}

	select {
	case ev := <-c.Events():
		t.Errorf("unexpected event after terminal failure: %#v", ev)
	default:
	}
}

func TestClientReconnectsAndResynchronizes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	serve := func(hold bool) {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		w := newWire(t, conn)
		w.line("Asterisk Call Manager/5.0.2")
		w.acceptLogin()
		w.expectLists()
		w.send("Event: ExtensionStateListComplete", "ListItems: 0")
		w.send("Event: CoreShowChannelsComplete", "ListItems: 0")
		w.send("Event: QueueStatusComplete", "ListItems: 0")
		if hold {
			w.fr.Next()
		}
	}

	go func() {
		serve(false) // drop the link right after the image
		serve(true)
	}()

	c := NewClient(
		Config{
			Addr:       ln.Addr().String(),
			Username:   "panel",
			Secret:     "secret",
			BackoffMin: 10 * time.Millisecond,
			BackoffMax: 50 * time.Millisecond,
		},
		map[string]string{"1001": "Alice"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if _, ok := waitEvent(t, c.Events()).(state.ReplaceAllEvent); !ok {
		t.Fatal("want a full image after first connect")
	}

	ev := waitEvent(t, c.Events())
	down, ok := ev.(state.LinkDownEvent)
	if !ok {
		t.Fatalf("event after drop = %T, want LinkDownEvent", ev)
	}
	if down.Reason == "" {
		t.Error("LinkDownEvent.Reason is empty")
	}

	if _, ok := waitEvent(t, c.Events()).(state.ReplaceAllEvent); !ok {
		t.Fatal("want a full image after reconnect")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := NewClient(Config{Addr: "127.0.0.1:1"}, nil)

	if err := c.Send(Command{Action: "Ping"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() = %v, want ErrNotConnected", err)
	}
	if err := c.RequestResync(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RequestResync() = %v, want ErrNotConnected", err)
	}
}

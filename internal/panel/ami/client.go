// Package ami maintains the manager link to the telephony switch: one TCP
// connection carrying blank-line-terminated tag/value frames. The client
// owns reconnection, resynchronization and the translation of raw frames
// into state events; everything above it only ever sees typed events.
package ami

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/state"
)

var (
	// ErrAuthFailed is terminal: the switch rejected our credentials and
	// retrying will not help.
	ErrAuthFailed = errors.New("switch rejected credentials")
	// ErrNotConnected is returned for commands issued while the link is
	// down. Callers report it and move on; the command is not queued.
	ErrNotConnected = errors.New("switch link down")
)

// Config holds the switch link settings.
type Config struct {
	Addr     string
	Username string
	Secret   string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	EventBuffer  int
}

func (cfg Config) withDefaults() Config {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return cfg
}

// Client is the switch link. Run owns at most one live connection at a time
// and emits state events on Events.
type Client struct {
	cfg       Config
	monitored map[string]string // extension number -> display name
	events    chan state.Event

	mu      sync.Mutex
	conn    net.Conn
	pending *resyncBuffer
}

// NewClient builds a client seeded with the monitored extension directory.
func NewClient(cfg Config, monitored map[string]string) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:       cfg,
		monitored: monitored,
		events:    make(chan state.Event, cfg.EventBuffer),
	}
}

// Events returns the state event stream. A single goroutine must consume it
// and feed the store.
func (c *Client) Events() <-chan state.Event { return c.events }

// Run connects, synchronizes and streams until the context ends or the
// switch rejects our credentials. Transient failures reconnect with capped
// exponential backoff and jitter; every successful connect starts with a
// full resynchronization.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.BackoffMin
	for {
		started := time.Now()
		err := c.session(ctx)
		if errors.Is(err, ErrAuthFailed) {
			logger.Error("[AMI] Authentication rejected, giving up", "error", err)
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.emit(ctx, state.LinkDownEvent{Base: state.Base{At: time.Now().UTC()}, Reason: errText(err)})

		// A session that held for a while earns a fresh backoff.
		if time.Since(started) > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMin
		}
		logger.Warn("[AMI] Link lost, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff = min(backoff*2, c.cfg.BackoffMax)
	}
}

// Send writes one command on the live connection. Fire-and-forget: response
// frames are not correlated, effects arrive as ordinary events.
func (c *Client) Send(cmd Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := c.write(conn, cmd.marshal(uuid.NewString())); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Action, err)
	}
	return nil
}

// RequestResync re-reads the full switch state on the live connection. The
// replacement image is emitted once all three list replies complete.
func (c *Client) RequestResync() error {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.pending = c.newResyncBuffer(time.Now().UTC())
	}
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	logger.Info("[AMI] Resynchronization requested")
	return c.sendLists()
}

func (c *Client) session(ctx context.Context) error {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	// Context cancellation tears the connection down, which unblocks the
	// reader.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	fr := newFrameReader(conn)
	greeting, err := fr.Line()
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	logger.Info("[AMI] Connected", "addr", c.cfg.Addr, "greeting", greeting)

	if err := c.login(conn, fr); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = c.newResyncBuffer(time.Now().UTC())
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.pending = nil
		c.mu.Unlock()
	}()

	if err := c.sendLists(); err != nil {
		return fmt.Errorf("request state lists: %w", err)
	}

	pingCtx, stopPinger := context.WithCancel(ctx)
	defer stopPinger()
	go c.pinger(pingCtx)

	for {
		f, err := fr.Next()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(ctx, f)
	}
}

func (c *Client) login(conn net.Conn, fr *frameReader) error {
	id := uuid.NewString()
	cmd := Command{Action: "Login", Params: map[string]string{
		"Username": c.cfg.Username,
		"Secret":   c.cfg.Secret,
		"Events":   "on",
	}}
	if err := c.write(conn, cmd.marshal(id)); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	for {
		f, err := fr.Next()
		if err != nil {
			return fmt.Errorf("read login response: %w", err)
		}
		if f.Get("ActionID") != id {
			continue
		}
		if !strings.EqualFold(f.Get("Response"), "Success") {
			return fmt.Errorf("%w: %s", ErrAuthFailed, f.Get("Message"))
		}
		logger.Info("[AMI] Authenticated", "username", c.cfg.Username)
		return nil
	}
}

// sendLists asks the switch for the three state lists aggregated into a
// replacement image.
func (c *Client) sendLists() error {
	for _, action := range []string{"ExtensionStateList", "CoreShowChannels", "QueueStatus"} {
		if err := c.Send(Command{Action: action}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleFrame(ctx context.Context, f Frame) {
	name := f.Name()
	if name == "" {
		// Bare responses to pings and fired commands.
		return
	}

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending != nil && pending.collect(f) {
		if pending.complete() {
			c.mu.Lock()
			if c.pending == pending {
				c.pending = nil
			}
			c.mu.Unlock()
			ev := pending.replaceAll()
			logger.Info("[AMI] Synchronized",
				"extensions", len(ev.Extensions),
				"calls", len(ev.Calls),
				"queues", len(ev.Queues),
				"members", len(ev.Members),
				"waiting", len(ev.Entries))
			c.emit(ctx, ev)
		}
		return
	}

	if ev := translateEvent(f, time.Now().UTC()); ev != nil {
		c.emit(ctx, ev)
	} else {
		logger.Debug("[AMI] Skipping event", "event", name)
	}
}

func (c *Client) pinger(ctx context.Context) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Send(Command{Action: "Ping"}); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(conn net.Conn, b []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(b)
	return err
}

func (c *Client) emit(ctx context.Context, ev state.Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// jitter spreads reconnect attempts by plus or minus twenty percent.
func jitter(d time.Duration) time.Duration {
	spread := d / 5
	return d - spread + rand.N(2*spread+1)
}

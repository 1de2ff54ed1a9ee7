package ami

import (
	"bufio"
	"io"
	"strings"

	"github.com/sebas/opdesk/internal/logger"
)

// maxLineBytes caps a single wire line. Anything longer kills the read and
// forces a reconnect.
const maxLineBytes = 64 * 1024

// Frame is one tag/value record from the switch. Keys are lowercased by the
// reader; values keep their original form.
type Frame map[string]string

// Get returns the value for a key, looked up case-insensitively.
func (f Frame) Get(key string) string {
	return f[strings.ToLower(key)]
}

// Name returns the event name, or the empty string for non-event frames.
func (f Frame) Name() string {
	return f.Get("Event")
}

// frameReader assembles blank-line-terminated frames from the wire.
type frameReader struct {
	sc *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &frameReader{sc: sc}
}

// Line reads one raw line, used for the protocol greeting which is not a
// frame.
func (fr *frameReader) Line() (string, error) {
	if !fr.sc.Scan() {
		if err := fr.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(fr.sc.Text(), "\r"), nil
}

// Next reads frames until a complete one is assembled. Lines without a
// separator are dropped; they never abort the stream.
func (fr *frameReader) Next() (Frame, error) {
	f := Frame{}
	for fr.sc.Scan() {
		line := strings.TrimRight(fr.sc.Text(), "\r")
		if line == "" {
			if len(f) == 0 {
				continue
			}
			return f, nil
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			logger.Warn("[AMI] Dropping malformed line", "line", clip(line, 120))
			continue
		}
		f[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	if err := fr.sc.Err(); err != nil {
		return nil, err
	}
	if len(f) > 0 {
		// Connection ended mid-frame; deliver what we have.
		return f, nil
	}
	return nil, io.EOF
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

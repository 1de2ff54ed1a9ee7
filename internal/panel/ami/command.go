package ami

import (
	"bytes"
	"fmt"
	"sort"
)

// Command is one manager action to send to the switch. Params never include
// Action or ActionID; the client adds those when writing the frame.
type Command struct {
	Action string
	Params map[string]string
}

// marshal renders the command as a wire frame. Params are written in sorted
// key order so frames are reproducible.
func (c Command) marshal(actionID string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Action: %s\r\n", c.Action)
	if actionID != "" {
		fmt.Fprintf(&b, "ActionID: %s\r\n", actionID)
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, c.Params[k])
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

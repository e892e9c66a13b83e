package notify

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"peercast/internal/core/domain"

	"go.uber.org/zap"
)

// Console renders notifications to a terminal and lets the user invoke an
// attached action by pressing enter.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	action *domain.NotificationAction
	logger *zap.SugaredLogger
}

func NewConsole(logger *zap.SugaredLogger) *Console {
	return &Console{out: os.Stdout, logger: logger}
}

// NewConsoleTo writes to the given writer instead of stdout.
func NewConsoleTo(out io.Writer, logger *zap.SugaredLogger) *Console {
	return &Console{out: out, logger: logger}
}

func (c *Console) Notify(n domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	if n.Variant == domain.NotificationDestructive {
		b.WriteString("[!] ")
	} else {
		b.WriteString("[*] ")
	}
	b.WriteString(n.Title)
	if n.Message != "" {
		b.WriteString(": ")
		b.WriteString(n.Message)
	}
	if n.Action != nil {
		fmt.Fprintf(&b, " (press enter to %s)", strings.ToLower(n.Action.Label))
		c.action = n.Action
	}
	fmt.Fprintln(c.out, b.String())
}

// RunInput consumes lines from r, invoking the latest pending action on each
// enter press. It returns when r is exhausted.
func (c *Console) RunInput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.mu.Lock()
		action := c.action
		c.action = nil
		c.mu.Unlock()

		if action == nil {
			continue
		}
		c.logger.Infow("notification action invoked", "label", action.Label)
		action.Invoke()
	}
}

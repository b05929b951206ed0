package notifier

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// DryRunNotifier prints what would be sent without contacting any service
type DryRunNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

// NewDryRunNotifier creates a new dry-run notifier writing to out
func NewDryRunNotifier(out io.Writer) *DryRunNotifier {
	return &DryRunNotifier{out: out}
}

// Send prints the message
func (n *DryRunNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.count++
	fmt.Fprintf(n.out, "--- Message %d (%s) ---\n", n.count, msg.Channel)
	fmt.Fprintf(n.out, "To: %s <%s>\n", msg.Name, msg.To)
	if msg.Subject != "" {
		fmt.Fprintf(n.out, "Subject: %s\n", msg.Subject)
	}
	fmt.Fprintf(n.out, "\n%s\n\n", msg.Body)
	return nil
}

// Count returns how many messages were printed
func (n *DryRunNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

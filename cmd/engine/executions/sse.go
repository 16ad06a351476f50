package executions

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dipeo/engine/eventbus"
)

// eventSubscriber is the slice of eventbus.Bus this package depends
// on, narrowed to the two methods the SSE handler calls; *eventbus.Bus
// satisfies it, as the assertion below checks.
type eventSubscriber interface {
	Subscribe(executionID string) *eventbus.Subscription
	Unsubscribe(executionID string, sub *eventbus.Subscription)
}

var _ eventSubscriber = (*eventbus.Bus)(nil)

// writeSSEEvent encodes one event as a single "data: <json>\n\n" SSE
// frame.
func writeSSEEvent(w io.Writer, evt eventbus.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}

package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
)

// Optimizer runs can pause between rounds while a batch propagates, so each
// write gets its own deadline instead of one for the whole stream.
const writeTimeout = 30 * time.Second

// client serializes optimizer events onto one SSE response. It is used from
// a single goroutine.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	events map[string]int
	bytes  int64
}

func newClient(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger) *client {
	return &client{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		logger:  logger,
		events:  make(map[string]int),
	}
}

// send writes v as a named event:
//
//	event: <name>
//	data: <json>
func (c *client) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if err := c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	c.events[event]++
	metrics.RecordSSEEvent(event)
	return nil
}

// sendRetry tells the browser how long to wait before reconnecting.
func (c *client) sendRetry(d time.Duration) error {
	return c.write(fmt.Sprintf("retry: %d\n\n", d.Milliseconds()))
}

// sendKeepalive writes an empty comment so idle proxies keep the
// connection open while a slow round is evaluated.
func (c *client) sendKeepalive() error {
	return c.write(":\n\n")
}

func (c *client) write(frame string) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprint(c.w, frame)
	c.bytes += int64(n)
	if err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// summary returns log attributes describing what the stream delivered.
func (c *client) summary() []any {
	return []any{
		"progress_events", c.events["progress"],
		"round_events", c.events["round"],
		"result_sent", c.events["result"] > 0,
		"bytes_sent", c.bytes,
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/archive"
)

// tailer prints messages and decides when to stop
type tailer struct {
	out         io.Writer
	json        *json.Encoder
	maxMessages int
	maxIdle     int
	stopOn      signalling.LevelSet
	stopOnAny   bool
	now         func() time.Time

	count int
	idle  int
}

func newTailer(opts *options, out io.Writer) (*tailer, error) {
	t := &tailer{
		out:         out,
		maxMessages: opts.maxMessages,
		maxIdle:     opts.maxIdle,
		now:         time.Now,
	}

	switch opts.format {
	case "text":
	case "json":
		t.json = json.NewEncoder(out)
	default:
		return nil, fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", opts.format)
	}

	if opts.maxMessages < 0 || opts.maxIdle < 0 {
		return nil, fmt.Errorf("--max-messages and --max-idle must not be negative")
	}
	if opts.maxIdle > 0 && opts.timeout <= 0 {
		// empty polls only happen in poll mode
		return nil, fmt.Errorf("--max-idle requires --timeout")
	}

	if len(opts.stopOn) > 0 {
		t.stopOn = signalling.NewLevelSet(opts.stopOn...)
		t.stopOnAny = true
	}

	return t, nil
}

func (t *tailer) HandleMessage(ctx context.Context, msg *signalling.Message) (signalling.Action, error) {
	t.idle = 0
	t.count++

	if err := t.print(msg); err != nil {
		return signalling.Continue, fmt.Errorf("failed to write message: %w", err)
	}

	if t.stopOnAny && t.stopOn.Contains(msg.Level()) {
		return signalling.Stop, nil
	}
	if t.maxMessages > 0 && t.count >= t.maxMessages {
		return signalling.Stop, nil
	}
	return signalling.Continue, nil
}

// HandleTimeout counts the polls since the last message
func (t *tailer) HandleTimeout(ctx context.Context) (signalling.Action, error) {
	t.idle++
	if t.maxIdle > 0 && t.idle > t.maxIdle {
		return signalling.Stop, nil
	}
	return signalling.Continue, nil
}

func (t *tailer) print(msg *signalling.Message) error {
	if t.json != nil {
		return t.json.Encode(archive.NewDocument(msg, t.now()))
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	_, err := fmt.Fprintf(t.out, "%s %s\n", ts.Format(time.RFC3339), msg.String())
	return err
}

package signalling

import (
	"fmt"
	"strings"
	"time"
)

// Message is a log event delivered from the job queue
type Message struct {
	Body        []byte
	ContentType string
	RoutingKey  string
	DeliveryTag uint64
	Redelivered bool
	Timestamp   time.Time
	Headers     map[string]any
}

// Level returns the severity segment of the routing key, or "" if the key is not a log key
func (m *Message) Level() string {
	level, _, ok := splitRoutingKey(m.RoutingKey)
	if !ok {
		return ""
	}
	return level
}

// JobID returns the job segment of the routing key, or "" if the key is not a log key
func (m *Message) JobID() JobID {
	_, job, ok := splitRoutingKey(m.RoutingKey)
	if !ok {
		return ""
	}
	return JobID(job)
}

func (m *Message) String() string {
	level := m.Level()
	if level == "" {
		level = "?"
	}
	return fmt.Sprintf("[%s] %s", level, strings.TrimRight(string(m.Body), "\n"))
}

// splitRoutingKey splits log.<level>.<job-id>. The job id keeps any trailing segments.
func splitRoutingKey(key string) (level, job string, ok bool) {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[0] != routingKeyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

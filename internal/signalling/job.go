package signalling

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	queuePrefix      = "supervisor"
	routingKeyPrefix = "log"
	wildcardLevel    = "*"
)

// JobID names the job whose log stream is observed. Its string form appears verbatim
// in routing keys and queue names.
type JobID string

// JobIDFromInt returns the JobID for a numeric job identifier
func JobIDFromInt(id int64) JobID {
	return JobID(strconv.FormatInt(id, 10))
}

func (id JobID) String() string {
	return string(id)
}

// Validate rejects identifiers that would change the shape of a routing key
func (id JobID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidJobID)
	}
	if !isRoutingSegment(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, string(id))
	}
	return nil
}

// QueueName returns the broker queue observed for a job: supervisor-<job-id>
func QueueName(id JobID) string {
	return queuePrefix + "-" + string(id)
}

// RoutingKey returns the topic routing key log.<level>.<job-id>
func RoutingKey(level string, id JobID) string {
	return routingKeyPrefix + "." + level + "." + string(id)
}

// Bindings returns the routing keys the job queue is bound with for the given levels.
// It returns a single wildcard key when levels selects all levels.
func Bindings(id JobID, levels LevelSet) []string {
	if levels.All() {
		return []string{RoutingKey(wildcardLevel, id)}
	}

	keys := make([]string, 0, len(levels.levels))
	for _, level := range levels.levels {
		keys = append(keys, RoutingKey(level, id))
	}
	return keys
}

// LevelSet is the set of severity levels a consumer is interested in.
// The zero value selects all levels.
type LevelSet struct {
	levels []string
}

// AllLevels selects every severity level
func AllLevels() LevelSet {
	return LevelSet{}
}

// NewLevelSet builds a set from level names. Names are upper-cased and duplicates dropped.
// No names, or a "*" name, selects all levels.
func NewLevelSet(names ...string) LevelSet {
	seen := make(map[string]struct{}, len(names))
	levels := make([]string, 0, len(names))

	for _, name := range names {
		level := strings.ToUpper(strings.TrimSpace(name))
		if level == wildcardLevel {
			return AllLevels()
		}
		if _, ok := seen[level]; ok {
			continue
		}
		seen[level] = struct{}{}
		levels = append(levels, level)
	}

	if len(levels) == 0 {
		return AllLevels()
	}
	return LevelSet{levels: levels}
}

// ParseLevelSet parses a comma separated list such as "ERROR,CRITICAL".
// An empty string, "*" or "all" selects all levels.
func ParseLevelSet(s string) LevelSet {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return AllLevels()
	}

	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return NewLevelSet(names...)
}

// All reports whether the set selects every level
func (s LevelSet) All() bool {
	return len(s.levels) == 0
}

// Levels returns the explicit levels, or nil when the set selects all levels
func (s LevelSet) Levels() []string {
	if s.All() {
		return nil
	}
	out := make([]string, len(s.levels))
	copy(out, s.levels)
	return out
}

// Contains reports whether level is selected by the set
func (s LevelSet) Contains(level string) bool {
	if s.All() {
		return true
	}
	level = strings.ToUpper(level)
	for _, l := range s.levels {
		if l == level {
			return true
		}
	}
	return false
}

func (s LevelSet) String() string {
	if s.All() {
		return wildcardLevel
	}
	return strings.Join(s.levels, ",")
}

// Validate rejects level names that are not a single routing key segment
func (s LevelSet) Validate() error {
	for _, level := range s.levels {
		if level == "" || !isRoutingSegment(level) {
			return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
		}
	}
	return nil
}

// isRoutingSegment reports whether s can stand as one dot-separated segment of a topic routing key
func isRoutingSegment(s string) bool {
	for _, r := range s {
		if r == '.' || r == '*' || r == '#' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

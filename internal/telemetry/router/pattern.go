// Package router matches pub/sub topics against wildcard patterns and
// dispatches messages to the handlers subscribed under them.
package router

import (
	"errors"
	"fmt"
	"strings"
)

const (
	separator   = "/"
	singleLevel = "+"
	multiLevel  = "#"
)

var (
	// ErrInvalidPattern is returned by Compile for patterns that cannot match any topic.
	ErrInvalidPattern = errors.New("router: invalid pattern")
	// ErrInvalidTopic is returned for concrete topics that are empty or contain wildcards.
	ErrInvalidTopic = errors.New("router: invalid topic")
)

type segmentKind uint8

const (
	literal segmentKind = iota
	single
	multi
)

type segment struct {
	kind  segmentKind
	value string
}

// Pattern is a compiled topic pattern. A literal segment matches itself, "+"
// matches exactly one segment, and a trailing "#" matches one or more
// remaining segments ("entity/#" does not match "entity").
type Pattern struct {
	raw  string
	segs []segment
}

// Compile parses pattern. "#" must be the last segment and wildcards must
// occupy a whole segment.
func Compile(pattern string) (Pattern, error) {
	if pattern == "" {
		return Pattern{}, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	parts := strings.Split(pattern, separator)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		switch {
		case p == multiLevel:
			if i != len(parts)-1 {
				return Pattern{}, fmt.Errorf("%w: %q: %q must be the last segment", ErrInvalidPattern, pattern, multiLevel)
			}
			segs[i] = segment{kind: multi}
		case p == singleLevel:
			segs[i] = segment{kind: single}
		case strings.ContainsAny(p, singleLevel+multiLevel):
			return Pattern{}, fmt.Errorf("%w: %q: wildcard inside segment %q", ErrInvalidPattern, pattern, p)
		default:
			segs[i] = segment{kind: literal, value: p}
		}
	}
	return Pattern{raw: pattern, segs: segs}, nil
}

// MustCompile is like Compile but panics on error. For package-level patterns.
func MustCompile(pattern string) Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern.
func (p Pattern) String() string { return p.raw }

// Match reports whether topic matches p. Invalid topics never match.
func (p Pattern) Match(topic string) bool {
	levels, err := SplitTopic(topic)
	if err != nil {
		return false
	}
	return p.match(levels)
}

func (p Pattern) match(levels []string) bool {
	for i, s := range p.segs {
		if s.kind == multi {
			return len(levels) > i
		}
		if i >= len(levels) {
			return false
		}
		if s.kind == literal && s.value != levels[i] {
			return false
		}
	}
	return len(levels) == len(p.segs)
}

// SplitTopic validates a concrete topic and returns its segments.
func SplitTopic(topic string) ([]string, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, singleLevel+multiLevel) {
		return nil, fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return strings.Split(topic, separator), nil
}

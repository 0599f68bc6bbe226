package modbus

import (
	"encoding/json"
	"fmt"
)

// ChangeAggregator collects the values that changed during one sweep so
// they can be published together as a single JSON object.
//
// It is owned by the poll loop and is not safe for concurrent use.
type ChangeAggregator struct {
	batch map[string]string
}

// NewChangeAggregator returns an empty aggregator.
func NewChangeAggregator() *ChangeAggregator {
	return &ChangeAggregator{batch: make(map[string]string)}
}

// Add records a changed value. A later Add for the same topic wins.
func (a *ChangeAggregator) Add(topic, value string) {
	a.batch[topic] = value
}

// Len returns the number of pending entries.
func (a *ChangeAggregator) Len() int {
	return len(a.batch)
}

// Flush encodes the pending entries and clears the batch. ok is false when
// nothing changed, in which case nothing should be published.
//
// Values that are valid JSON numbers are encoded as numbers, everything
// else as strings. Keys are sorted.
func (a *ChangeAggregator) Flush() (payload []byte, ok bool, err error) {
	if len(a.batch) == 0 {
		return nil, false, nil
	}

	obj := make(map[string]any, len(a.batch))
	for topic, value := range a.batch {
		if isJSONNumber(value) {
			obj[topic] = json.Number(value)
		} else {
			obj[topic] = value
		}
	}
	clear(a.batch)

	payload, err = json.Marshal(obj)
	if err != nil {
		return nil, false, fmt.Errorf("encoding change batch: %w", err)
	}
	return payload, true, nil
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && !isDigit(s[0])) || !isDigit(s[len(s)-1]) {
		return false
	}
	return json.Valid([]byte(s))
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

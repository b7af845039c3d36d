package subscription

import (
	"encoding/json"
	"slices"
)

// Entry is an element of an append-only Log.
// EntryKey is the deduplication key: a Log never holds two entries with the
// same non-empty key.
type Entry interface {
	EntryKey() string
}

// Log is an ordered, append-only sequence of entries.
// Entries can only be added through Append, which rejects duplicate keys,
// so replaying the same entry leaves the log unchanged.
type Log[T Entry] struct {
	entries []T
}

// NewLog rebuilds a log from persisted entries. Later duplicates are dropped.
func NewLog[T Entry](entries ...T) Log[T] {
	var l Log[T]
	for _, e := range entries {
		_ = l.Append(e)
	}
	return l
}

// Append adds e to the end of the log.
// Returns ErrDuplicateEntry if an entry with the same key is already present.
func (l *Log[T]) Append(e T) error {
	if key := e.EntryKey(); key != "" && l.Contains(key) {
		return ErrDuplicateEntry
	}
	l.entries = append(l.entries, e)
	return nil
}

// Contains reports whether an entry with the given key exists.
func (l Log[T]) Contains(key string) bool {
	return slices.ContainsFunc(l.entries, func(e T) bool {
		return e.EntryKey() == key
	})
}

// Len returns the number of entries.
func (l Log[T]) Len() int {
	return len(l.entries)
}

// All returns a copy of the entries in insertion order.
func (l Log[T]) All() []T {
	return slices.Clone(l.entries)
}

// Last returns the most recent entry.
func (l Log[T]) Last() (T, bool) {
	if len(l.entries) == 0 {
		var zero T
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// MarshalJSON encodes the log as a JSON array.
func (l Log[T]) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes a JSON array, dropping duplicate keys.
func (l *Log[T]) UnmarshalJSON(data []byte) error {
	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = NewLog(entries...)
	return nil
}

func (l Log[T]) clone() Log[T] {
	return Log[T]{entries: slices.Clone(l.entries)}
}

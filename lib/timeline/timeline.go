// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"slices"
	"sort"
)

// Timeline is one room's ordered messages plus its pagination state.
// It is not safe for concurrent use; [Store] serializes access.
type Timeline struct {
	messages []Message
	ids      map[MessageID]struct{}
	hasMore  bool
	cursor   string

	// loaded is set once an initial window has been installed. Live
	// appends alone create an unloaded timeline.
	loaded bool

	// confirmed holds local sends the server accepted that no loaded
	// window has contained yet.
	confirmed map[MessageID]struct{}
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{
		ids:       make(map[MessageID]struct{}),
		confirmed: make(map[MessageID]struct{}),
	}
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.messages) }

// Messages returns a copy of the messages, oldest first.
func (t *Timeline) Messages() []Message { return slices.Clone(t.messages) }

// Contains reports whether a message with id is present.
func (t *Timeline) Contains(id MessageID) bool {
	_, ok := t.ids[id]
	return ok
}

// HasMore reports whether older history may exist on the server.
func (t *Timeline) HasMore() bool { return t.hasMore }

// Cursor returns the token for the next backward page.
func (t *Timeline) Cursor() string { return t.cursor }

// SetPagination records the result of a backward page.
func (t *Timeline) SetPagination(hasMore bool, cursor string) {
	t.hasMore = hasMore
	t.cursor = cursor
}

// Append inserts messages at their timestamp position, after any
// existing entries with an equal timestamp. Messages whose ID is
// already present are skipped. Returns the accepted messages in the
// order they were inserted.
func (t *Timeline) Append(messages ...Message) []Message {
	var accepted []Message
	for _, message := range sortedBatch(messages) {
		if t.Contains(message.ID) {
			continue
		}
		position := sort.Search(len(t.messages), func(i int) bool {
			return t.messages[i].Timestamp.After(message.Timestamp)
		})
		t.insert(position, message)
		accepted = append(accepted, message)
	}
	return accepted
}

// Prepend inserts an older page. Each message goes before existing
// entries with an equal timestamp, while messages of the same batch
// keep their relative order. Messages whose ID is already present are
// skipped.
func (t *Timeline) Prepend(messages ...Message) []Message {
	var accepted []Message
	floor := 0
	for _, message := range sortedBatch(messages) {
		if t.Contains(message.ID) {
			continue
		}
		position := sort.Search(len(t.messages), func(i int) bool {
			return !t.messages[i].Timestamp.Before(message.Timestamp)
		})
		position = max(position, floor)
		t.insert(position, message)
		floor = position + 1
		accepted = append(accepted, message)
	}
	return accepted
}

// Tail returns the newest message.
func (t *Timeline) Tail() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Find returns the message with id.
func (t *Timeline) Find(id MessageID) (Message, bool) {
	index := t.indexOf(id)
	if index < 0 {
		return Message{}, false
	}
	return t.messages[index], true
}

// Update replaces the message with id by update(message). The new
// message keeps its position; if its ID changes the new ID must not
// already be present. Returns false when id is absent or the new ID
// collides.
func (t *Timeline) Update(id MessageID, update func(Message) Message) bool {
	index := t.indexOf(id)
	if index < 0 {
		return false
	}
	updated := update(t.messages[index])
	if updated.ID != id {
		if t.Contains(updated.ID) {
			return false
		}
		delete(t.ids, id)
		t.ids[updated.ID] = struct{}{}
	}
	t.messages[index] = updated
	return true
}

// Remove deletes the message with id.
func (t *Timeline) Remove(id MessageID) bool {
	index := t.indexOf(id)
	if index < 0 {
		return false
	}
	t.messages = slices.Delete(t.messages, index, index+1)
	delete(t.ids, id)
	delete(t.confirmed, id)
	return true
}

// local returns the unconfirmed local sends plus the confirmed ones
// not yet seen in a loaded window.
func (t *Timeline) local() []Message {
	var local []Message
	for _, message := range t.messages {
		_, confirmed := t.confirmed[message.ID]
		if message.Pending() || confirmed {
			local = append(local, message)
		}
	}
	return local
}

func (t *Timeline) insert(position int, message Message) {
	t.messages = slices.Insert(t.messages, position, message)
	t.ids[message.ID] = struct{}{}
}

// indexOf scans from the tail: lookups target recent local sends.
func (t *Timeline) indexOf(id MessageID) int {
	if !t.Contains(id) {
		return -1
	}
	for index := len(t.messages) - 1; index >= 0; index-- {
		if t.messages[index].ID == id {
			return index
		}
	}
	return -1
}

// sortedBatch returns messages stably sorted by timestamp without
// modifying the caller's slice.
func sortedBatch(messages []Message) []Message {
	sorted := slices.Clone(messages)
	slices.SortStableFunc(sorted, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return sorted
}

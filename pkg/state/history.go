package state

import "time"

// Version is one snapshot of a resource at a given point in its history.
// Id is a dense, absolute, 0-based counter: it never resets even after
// Clear drops earlier versions.
type Version[T any] struct {
	Id        int
	Timestamp time.Time
	Resource  T
}

// History is an arena-per-resource append-only version vector. Readers may
// address a resource by its latest state (Get) or by an absolute version id
// (GetVersion); Clear drops everything but the latest version while keeping
// version ids dense by remembering a starting offset.
type History[T any] struct {
	versions []Version[T]
	offset   int
}

// NewHistory creates a history seeded with a single version 0.
func NewHistory[T any](resource T) *History[T] {
	return &History[T]{
		versions: []Version[T]{{Id: 0, Timestamp: time.Now(), Resource: resource}},
	}
}

// Get returns the latest resource value.
func (h *History[T]) Get() T {
	return h.versions[len(h.versions)-1].Resource
}

// Current returns the latest version, including its id and timestamp.
func (h *History[T]) Current() Version[T] {
	return h.versions[len(h.versions)-1]
}

// Len reports the number of versions currently retained (not the highest
// version id — Clear can shrink this while version ids keep climbing).
func (h *History[T]) Len() int {
	return len(h.versions)
}

// Mutate appends a new version derived from fn applied to the latest
// resource value, and returns the mutated value.
func (h *History[T]) Mutate(fn func(T) T) T {
	current := h.Current()
	next := fn(current.Resource)

	h.versions = append(h.versions, Version[T]{
		Id:        current.Id + 1,
		Timestamp: time.Now(),
		Resource:  next,
	})

	return next
}

// GetVersion returns the version with the given absolute id, or false if it
// has been dropped by Clear or never existed.
func (h *History[T]) GetVersion(id int) (Version[T], bool) {
	if id < h.offset {
		return Version[T]{}, false
	}

	idx := id - h.offset
	if idx < 0 || idx >= len(h.versions) {
		return Version[T]{}, false
	}

	return h.versions[idx], true
}

// Clear drops every version but the latest, advancing the offset so
// subsequent version ids remain absolute.
func (h *History[T]) Clear() {
	dropped := len(h.versions) - 1
	if dropped <= 0 {
		return
	}

	h.versions = h.versions[dropped:]
	h.offset += dropped
}

// All returns every retained version, oldest first.
func (h *History[T]) All() []Version[T] {
	out := make([]Version[T], len(h.versions))
	copy(out, h.versions)
	return out
}

// Offset reports the absolute id of the earliest retained version.
func (h *History[T]) Offset() int {
	return h.offset
}

// RestoreHistory rebuilds a History from a previously exported version list
// and offset, for use by pkg/snapshot.
func RestoreHistory[T any](versions []Version[T], offset int) *History[T] {
	out := make([]Version[T], len(versions))
	copy(out, versions)
	return &History[T]{versions: out, offset: offset}
}

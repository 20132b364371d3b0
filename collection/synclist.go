// Package collection provides concurrency-safe containers shared by the
// server components, most notably SyncList, an ordered list whose every
// operation is serialized under a single lock so that callers get a stable
// view for compound operations like broadcast iteration.
package collection

import (
	"fmt"
	"sync"
)

// ErrIndexOutOfRange is returned by index-based operations when the index
// falls outside the valid range for the list's current length.
var ErrIndexOutOfRange = fmt.Errorf("collection: index out of range")

// Observer receives notifications about structural changes to a SyncList.
// Callbacks are invoked while the list's lock is held, immediately after the
// mutation has been applied, so implementations see a consistent list state
// but must not call back into the list.
type Observer[T comparable] interface {
	OnInsert(index int, item T)
	OnSet(index int, previous, item T)
	OnRemove(index int, item T)
	OnClear()
}

// SyncList is an ordered collection of T guarded by one mutex. Unlike a
// plain map-based registry, all operations (reads included) take the lock,
// which gives callers atomicity for compound validate-then-mutate operations
// at the cost of throughput. It's intended for small, lightly contended
// session and plugin lists where ordering matters.
type SyncList[T comparable] struct {
	mu       *sync.Mutex
	items    []T
	observer Observer[T]
}

// New returns an empty SyncList with its own lock.
func New[T comparable]() *SyncList[T] {
	return &SyncList[T]{mu: &sync.Mutex{}}
}

// NewFrom returns a SyncList pre-populated with a copy of items.
func NewFrom[T comparable](items []T) *SyncList[T] {
	l := New[T]()
	l.items = append(l.items, items...)
	return l
}

// NewWithLock returns an empty SyncList guarded by a caller-supplied lock.
// Sharing one lock between several lists lets a caller mutate the whole
// group atomically, at the cost of serializing all of their operations.
func NewWithLock[T comparable](lock *sync.Mutex) *SyncList[T] {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &SyncList[T]{mu: lock}
}

// SyncRoot exposes the list's lock so that callers can hold it across
// several of their own operations or share it with other lists.
func (l *SyncList[T]) SyncRoot() *sync.Mutex {
	return l.mu
}

// SetObserver registers a hook notified after every successful mutation.
// Passing nil removes the current observer.
func (l *SyncList[T]) SetObserver(o Observer[T]) {
	l.mu.Lock()
	l.observer = o
	l.mu.Unlock()
}

// Len returns the number of elements currently in the list.
func (l *SyncList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// At returns the element at index i.
func (l *SyncList[T]) At(i int) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= len(l.items) {
		var zero T
		return zero, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.items))
	}
	return l.items[i], nil
}

// Set replaces the element at index i, leaving the list unmodified if i is
// out of range.
func (l *SyncList[T]) Set(i int, item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.items))
	}

	previous := l.items[i]
	l.items[i] = item

	if l.observer != nil {
		l.observer.OnSet(i, previous, item)
	}
	return nil
}

// Add appends item to the end of the list.
func (l *SyncList[T]) Add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insert(len(l.items), item)
}

// Insert places item at index i, shifting subsequent elements up by one.
// Inserting at i == Len() is legal and equivalent to Add.
func (l *SyncList[T]) Insert(i int, item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i > len(l.items) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.items))
	}

	l.insert(i, item)
	return nil
}

func (l *SyncList[T]) insert(i int, item T) {
	var zero T
	l.items = append(l.items, zero)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = item

	if l.observer != nil {
		l.observer.OnInsert(i, item)
	}
}

// Remove deletes the first element equal to item, reporting whether a match
// was found. The list is unmodified when no match exists.
func (l *SyncList[T]) Remove(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.items {
		if existing == item {
			l.removeAt(i)
			return true
		}
	}
	return false
}

// RemoveAt deletes the element at index i, shifting subsequent elements down
// by one.
func (l *SyncList[T]) RemoveAt(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.items))
	}

	l.removeAt(i)
	return nil
}

func (l *SyncList[T]) removeAt(i int) {
	item := l.items[i]

	copy(l.items[i:], l.items[i+1:])
	var zero T
	l.items[len(l.items)-1] = zero
	l.items = l.items[:len(l.items)-1]

	if l.observer != nil {
		l.observer.OnRemove(i, item)
	}
}

// Clear removes all elements.
func (l *SyncList[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = nil

	if l.observer != nil {
		l.observer.OnClear()
	}
}

// Contains reports whether the list holds an element equal to item.
func (l *SyncList[T]) Contains(item T) bool {
	return l.IndexOf(item) >= 0
}

// IndexOf returns the index of the first element equal to item, or -1 if no
// element matches.
func (l *SyncList[T]) IndexOf(item T) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.items {
		if existing == item {
			return i
		}
	}
	return -1
}

// CopyTo copies the list's contents into dst starting at dst[at]. It fails
// without copying anything if the destination slice is too short.
func (l *SyncList[T]) CopyTo(dst []T, at int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if at < 0 || at+len(l.items) > len(dst) {
		return fmt.Errorf("%w: destination offset %d (need %d, have %d)",
			ErrIndexOutOfRange, at, len(l.items), len(dst)-at)
	}

	copy(dst[at:], l.items)
	return nil
}

// Snapshot returns a copy of the list's contents at the point of the call.
// The copy is independent of the list; mutating one does not affect the other.
func (l *SyncList[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make([]T, len(l.items))
	copy(snapshot, l.items)
	return snapshot
}

// Do invokes fn with the live backing slice while holding the lock, giving
// the caller an atomic ordered view for compound operations like broadcast.
// fn must not retain the slice or call back into the list.
func (l *SyncList[T]) Do(fn func(items []T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.items)
}

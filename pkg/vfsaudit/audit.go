//go:build linux

// Package vfsaudit records a before/after attribute snapshot around the
// guest daemon's filesystem-affecting operations (reads, binary
// installs, mounts), so a host can reconstruct what a sandboxed process
// touched after the fact. It is a narrow audit point, not the general
// hook-and-mutate engine a full guest VFS would need.
package vfsaudit

import (
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Op names the audited operation.
type Op string

const (
	OpFSRead        Op = "fs_read"
	OpBinaryInstall Op = "binary_install"
	OpMount         Op = "mount"
)

// Event is one recorded operation.
type Event struct {
	Op     Op
	Path   string
	Before *fuse.Attr
	After  *fuse.Attr
	Err    string
	At     time.Time
}

// Engine accumulates Events and optionally forwards each to a callback
// as it's recorded, mirroring the teacher's hook-engine event-emission
// pattern without the mutate-write and blocking-rule machinery a read
// sandbox doesn't need.
type Engine struct {
	mu       sync.Mutex
	events   []Event
	onEvent  func(Event)
	capacity int
}

// NewEngine builds an audit engine retaining at most capacity events in
// memory (0 means unbounded).
func NewEngine(capacity int) *Engine {
	return &Engine{capacity: capacity}
}

// SetEventFunc installs a callback invoked synchronously after each
// recorded event.
func (e *Engine) SetEventFunc(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

// Record snapshots path's attributes before and after calling fn,
// appending the resulting Event regardless of whether fn errors.
func (e *Engine) Record(op Op, path string, fn func() error) error {
	before := snapshot(path)
	err := fn()
	after := snapshot(path)

	evt := Event{Op: op, Path: path, Before: before, After: after, At: time.Now()}
	if err != nil {
		evt.Err = err.Error()
	}
	e.append(evt)
	return err
}

func (e *Engine) append(evt Event) {
	e.mu.Lock()
	e.events = append(e.events, evt)
	if e.capacity > 0 && len(e.events) > e.capacity {
		e.events = e.events[len(e.events)-e.capacity:]
	}
	cb := e.onEvent
	e.mu.Unlock()
	if cb != nil {
		cb(evt)
	}
}

// Events returns a snapshot of the recorded events so far.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

func snapshot(path string) *fuse.Attr {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return nil
	}
	attr := &fuse.Attr{}
	attr.FromStat(&st)
	return attr
}

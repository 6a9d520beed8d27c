// Package executor owns command execution and the per-table undo/redo
// timelines. It is the only writer of timeline state: commands, the
// version manager, the staging executor, and the shard orchestrator are
// collaborators it dispatches to based on a command's tier and
// capability.
package executor

import (
	"tableforge/internal/domain"
)

// Timeline is a table's linear command history with an undo pointer.
// records[:pos] are applied; records[pos:] were undone and are redoable
// until a new command truncates them.
type Timeline struct {
	records []*domain.TimelineRecord
	pos     int
}

// NewTimeline creates an empty Timeline.
func NewTimeline() *Timeline { return &Timeline{} }

// Append records a newly executed command. Any undone records beyond the
// pointer are discarded permanently: the timeline is linear, not a tree.
func (t *Timeline) Append(rec *domain.TimelineRecord) {
	t.records = append(t.records[:t.pos], rec)
	t.pos = len(t.records)
}

// CanUndo reports whether an applied record exists.
func (t *Timeline) CanUndo() bool { return t.pos > 0 }

// CanRedo reports whether an undone record exists.
func (t *Timeline) CanRedo() bool { return t.pos < len(t.records) }

// PeekUndo returns the most recent applied record without moving the
// pointer, or nil.
func (t *Timeline) PeekUndo() *domain.TimelineRecord {
	if !t.CanUndo() {
		return nil
	}
	return t.records[t.pos-1]
}

// PeekRedo returns the next redoable record without moving the pointer,
// or nil.
func (t *Timeline) PeekRedo() *domain.TimelineRecord {
	if !t.CanRedo() {
		return nil
	}
	return t.records[t.pos]
}

// MarkUndone moves the pointer back over the last applied record.
func (t *Timeline) MarkUndone() {
	if t.pos > 0 {
		t.pos--
	}
}

// MarkRedone moves the pointer forward over the next redoable record.
func (t *Timeline) MarkRedone() {
	if t.pos < len(t.records) {
		t.pos++
	}
}

// Position returns the undo pointer (number of applied records).
func (t *Timeline) Position() int { return t.pos }

// Records returns the full history, oldest first. Callers must not
// modify the returned slice.
func (t *Timeline) Records() []*domain.TimelineRecord { return t.records }

// DisableUndoThroughSnapshot permanently disables undo for the record
// owning the given snapshot and for every earlier record: once the
// snapshot is gone, no undo path leads past that point. Returns the
// number of records newly disabled.
func (t *Timeline) DisableUndoThroughSnapshot(snapshotID string) int {
	idx := -1
	for i, r := range t.records {
		if r.SnapshotID == snapshotID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	return t.disableThrough(idx)
}

// DisableUndoThrough disables undo for records[0..idx].
func (t *Timeline) disableThrough(idx int) int {
	var n int
	for i := 0; i <= idx && i < len(t.records); i++ {
		if !t.records[i].UndoDisabled {
			t.records[i].UndoDisabled = true
			n++
		}
	}
	return n
}

// DisableUndoFromCurrent disables undo for the record at the pointer and
// everything before it (materialization boundary).
func (t *Timeline) DisableUndoFromCurrent() int {
	return t.disableThrough(t.pos - 1)
}

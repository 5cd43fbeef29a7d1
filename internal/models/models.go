// Package models defines the core domain types for streaks.
package models

import (
	"sort"
	"time"
)

// Kind tags the type of counter a record represents.
type Kind string

const (
	KindTimer Kind = "timer"
)

// RunState represents whether a timer is advancing.
type RunState string

const (
	StateRunning RunState = "running"
	StatePaused  RunState = "paused"
)

// HistoryEntry records one completed interval, created when a timer is reset.
type HistoryEntry struct {
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Elapsed     time.Duration `json:"elapsed"`
	ResetReason string        `json:"reset_reason"`
}

// TimerRecord is one named streak. Title is its only identity.
type TimerRecord struct {
	Kind        Kind           `json:"kind"`
	Title       string         `json:"title"`
	StartTime   time.Time      `json:"start_time"`
	State       RunState       `json:"state"`
	Rules       string         `json:"rules,omitempty"`
	History     []HistoryEntry `json:"history"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Paused reports whether the record is frozen.
func (r TimerRecord) Paused() bool {
	return r.State == StatePaused
}

// Clone returns a deep copy; the history slice is not shared.
func (r TimerRecord) Clone() TimerRecord {
	out := r
	if r.History != nil {
		out.History = make([]HistoryEntry, len(r.History))
		copy(out.History, r.History)
	}
	return out
}

// Equal compares two records field by field. Instants are compared with
// time.Time.Equal so monotonic clock readings and locations don't matter.
func (r TimerRecord) Equal(o TimerRecord) bool {
	if r.Kind != o.Kind || r.Title != o.Title || r.State != o.State || r.Rules != o.Rules {
		return false
	}
	if !r.StartTime.Equal(o.StartTime) || !r.LastUpdated.Equal(o.LastUpdated) {
		return false
	}
	if len(r.History) != len(o.History) {
		return false
	}
	for i := range r.History {
		a, b := r.History[i], o.History[i]
		if !a.StartTime.Equal(b.StartTime) || !a.EndTime.Equal(b.EndTime) ||
			a.Elapsed != b.Elapsed || a.ResetReason != b.ResetReason {
			return false
		}
	}
	return true
}

// Snapshot is a complete, self-contained copy of one replica's records keyed
// by title.
type Snapshot map[string]TimerRecord

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Titles returns the keys in sorted order.
func (s Snapshot) Titles() []string {
	titles := make([]string, 0, len(s))
	for k := range s {
		titles = append(titles, k)
	}
	sort.Strings(titles)
	return titles
}

// Equal reports whether both snapshots hold the same titles with equal records.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		w, ok := o[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// TimerView is a record plus its derived figures, as served by the HTTP API.
type TimerView struct {
	TimerRecord
	ElapsedNs   int64  `json:"elapsed_ns"`
	AverageNs   int64  `json:"average_ns"`
	LongestNs   int64  `json:"longest_ns"`
	ElapsedText string `json:"elapsed_text"`
	AverageText string `json:"average_text"`
	LongestText string `json:"longest_text"`
}

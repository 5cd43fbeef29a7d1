// Package codec defines the versioned wire and storage encoding for replica
// snapshots.
package codec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fentz26/streaks/internal/models"
	"github.com/google/uuid"
)

// Version is the current envelope schema version.
const Version = 1

// Envelope kinds.
const (
	KindSnapshot = "snapshot"
	KindAck      = "ack"
)

// Fixed instant-channel replies.
const (
	AckReceived     = "Received time entries"
	AckDecodeFailed = "Failed to decode"
)

// Sentinel decode errors.
var (
	ErrVersion       = errors.New("unsupported envelope version")
	ErrKind          = errors.New("unknown envelope kind")
	ErrTitleMismatch = errors.New("record title does not match its key")
	ErrEmptyTitle    = errors.New("record has an empty title")
)

var api = sonic.ConfigStd

// Envelope is the unit exchanged between replicas.
type Envelope struct {
	V        int                   `json:"v"`
	ID       string                `json:"id"`
	Replica  string                `json:"replica"`
	SentAt   time.Time             `json:"sentAt"`
	Kind     string                `json:"kind"`
	Records  map[string]recordWire `json:"records,omitempty"`
	Response string                `json:"response,omitempty"`
}

type historyWire struct {
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	ElapsedTime  float64   `json:"elapsedTime"`
	ElapsedNanos *int64    `json:"elapsedNanos,omitempty"`
	ResetReason  string    `json:"resetReason"`
}

type recordWire struct {
	Kind        string        `json:"kind"`
	Title       string        `json:"title"`
	StartTime   time.Time     `json:"startTime"`
	IsPaused    *bool         `json:"isPaused,omitempty"`
	Rules       string        `json:"rules,omitempty"`
	History     []historyWire `json:"history"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

// Message is a decoded envelope.
type Message struct {
	ID       string
	Replica  string
	SentAt   time.Time
	Kind     string
	Snapshot models.Snapshot
	Response string
}

// Encode wraps snap in a fresh snapshot envelope from replica.
func Encode(replica string, snap models.Snapshot, sentAt time.Time) ([]byte, error) {
	env := Envelope{
		V:       Version,
		ID:      uuid.NewString(),
		Replica: replica,
		SentAt:  sentAt.UTC(),
		Kind:    KindSnapshot,
		Records: toWire(snap),
	}
	data, err := api.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Ack builds the fixed reply to an instant message.
func Ack(replica, response string) []byte {
	env := Envelope{
		V:        Version,
		ID:       uuid.NewString(),
		Replica:  replica,
		SentAt:   time.Now().UTC(),
		Kind:     KindAck,
		Response: response,
	}
	data, err := api.Marshal(env)
	if err != nil {
		return nil
	}
	return data
}

// Decode parses and validates an envelope. A malformed payload is rejected
// whole; no partial snapshot is ever returned.
func Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, env.V)
	}
	msg := &Message{
		ID:       env.ID,
		Replica:  env.Replica,
		SentAt:   env.SentAt,
		Kind:     env.Kind,
		Response: env.Response,
	}
	switch env.Kind {
	case KindAck:
		return msg, nil
	case KindSnapshot:
	default:
		return nil, fmt.Errorf("%w: %q", ErrKind, env.Kind)
	}
	snap, err := fromWire(env.Records)
	if err != nil {
		return nil, err
	}
	msg.Snapshot = snap
	return msg, nil
}

// EncodeSnapshot is the bare record map encoding used for storage.
func EncodeSnapshot(snap models.Snapshot) ([]byte, error) {
	data, err := api.Marshal(toWire(snap))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses the output of EncodeSnapshot.
func DecodeSnapshot(data []byte) (models.Snapshot, error) {
	var m map[string]recordWire
	if err := api.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return fromWire(m)
}

func toWire(snap models.Snapshot) map[string]recordWire {
	out := make(map[string]recordWire, len(snap))
	for title, rec := range snap {
		w := recordWire{
			Kind:        string(rec.Kind),
			Title:       title,
			StartTime:   rec.StartTime.UTC(),
			Rules:       rec.Rules,
			History:     make([]historyWire, 0, len(rec.History)),
			LastUpdated: rec.LastUpdated.UTC(),
		}
		paused := rec.Paused()
		w.IsPaused = &paused
		for _, h := range rec.History {
			nanos := int64(h.Elapsed)
			w.History = append(w.History, historyWire{
				StartTime:    h.StartTime.UTC(),
				EndTime:      h.EndTime.UTC(),
				ElapsedTime:  h.Elapsed.Seconds(),
				ElapsedNanos: &nanos,
				ResetReason:  h.ResetReason,
			})
		}
		out[title] = w
	}
	return out
}

func fromWire(m map[string]recordWire) (models.Snapshot, error) {
	snap := make(models.Snapshot, len(m))
	for key, w := range m {
		if key == "" {
			return nil, ErrEmptyTitle
		}
		// Older payloads may omit the title field; the key is authoritative.
		if w.Title != "" && w.Title != key {
			return nil, fmt.Errorf("%w: key %q, title %q", ErrTitleMismatch, key, w.Title)
		}
		rec := models.TimerRecord{
			Kind:        models.Kind(w.Kind),
			Title:       key,
			StartTime:   w.StartTime,
			State:       models.StateRunning,
			Rules:       w.Rules,
			History:     make([]models.HistoryEntry, 0, len(w.History)),
			LastUpdated: w.LastUpdated,
		}
		if rec.Kind == "" {
			rec.Kind = models.KindTimer
		}
		if w.IsPaused != nil && *w.IsPaused {
			rec.State = models.StatePaused
		}
		for _, h := range w.History {
			rec.History = append(rec.History, models.HistoryEntry{
				StartTime:   h.StartTime,
				EndTime:     h.EndTime,
				Elapsed:     elapsedFromWire(h),
				ResetReason: h.ResetReason,
			})
		}
		snap[key] = rec
	}
	return snap, nil
}

func elapsedFromWire(h historyWire) time.Duration {
	if h.ElapsedNanos != nil {
		return time.Duration(*h.ElapsedNanos)
	}
	return time.Duration(math.Round(h.ElapsedTime * float64(time.Second)))
}

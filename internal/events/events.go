// Package events defines the notifications emitted by the proof ledger and the schema
// registry, and the sinks that deliver them.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	AuthorityStored Type = "AuthorityStored"
	SignatureStored Type = "SignatureStored"
	AgreementStored Type = "AgreementStored"
	SchemaAdded     Type = "SchemaAdded"
	SchemaUpdated   Type = "SchemaUpdated"
)

// Event is a single success notification. Proof events carry the document identifier,
// schema events carry Kind and Version.
type Event struct {
	ID               string    `json:"id"`
	Type             Type      `json:"type"`
	FileCID          string    `json:"fileCID,omitempty"`
	ProofID          string    `json:"proofID,omitempty"`
	AuthorityProofID string    `json:"authorityProofID,omitempty"`
	Actor            string    `json:"actor,omitempty"`
	Signature        string    `json:"signature,omitempty"`
	Message          string    `json:"message,omitempty"`
	Kind             string    `json:"kind,omitempty"`
	Version          string    `json:"version,omitempty"`
	Time             time.Time `json:"time"`
}

// New returns an event of type t with a fresh id and timestamp.
func New(t Type) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		Time: time.Now().UTC(),
	}
}

// Topic is the routing key of the event: the document for proof events, "schemas" for
// registry events.
func (e Event) Topic() string {
	if e.FileCID != "" {
		return e.FileCID
	}
	return SchemaTopic
}

// SchemaTopic receives all registry events.
const SchemaTopic = "schemas"

// Sink receives events after the mutation that produced them has committed.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// LogSink writes every event to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, ev Event) error {
	s.Logger.InfoContext(ctx, "event emitted",
		"event_id", ev.ID,
		"type", ev.Type,
		"file_cid", ev.FileCID,
		"proof_id", ev.ProofID,
		"actor", ev.Actor,
	)
	return nil
}

// Recorder keeps events in memory. Tests use it to assert on emitted notifications.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

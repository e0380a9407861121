// Package notify provides reference escalation.Notifier implementations.
// Spec's Non-goals place concrete notification transport (email, chat,
// issue trackers, webhooks) outside this module's scope; what ships here
// is the no-op (escalation.NewEngine's own default) and this recorder,
// which captures every notification in memory for test assertions and
// local CLI inspection.
package notify

import (
	"context"
	"sync"

	"github.com/runtimegov/governor/internal/domain/escalation"
)

// Recorder is an escalation.Notifier that appends every notified Event to
// an in-memory slice instead of delivering it anywhere.
type Recorder struct {
	mu     sync.Mutex
	events []escalation.Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify implements escalation.Notifier.
func (r *Recorder) Notify(_ context.Context, e escalation.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a snapshot of every Event notified so far, oldest first.
func (r *Recorder) Events() []escalation.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]escalation.Event, len(r.events))
	copy(out, r.events)
	return out
}

var _ escalation.Notifier = (*Recorder)(nil)

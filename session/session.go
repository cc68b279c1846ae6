package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

var ErrDuplicateID = errors.New("session: duplicate event id")

// Event is an identified entry of the event log. The id is the event's
// identity and does not change when the log is rewound.
type Event struct {
	ID   string
	Body EventBody
}

// Session is an ordered, append-only event log. It only shrinks when a
// ResumeFrom event is applied by Resume.
type Session struct {
	Events []Event
}

// Append wraps body in an event and adds it to the end of the log. An empty
// id is replaced by a generated one.
func (s *Session) Append(id string, body EventBody) (Event, error) {
	if id == "" {
		id = uuid.NewString()
	} else if s.Index(id) >= 0 {
		return Event{}, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	event := Event{ID: id, Body: body}
	s.Events = append(s.Events, event)
	return event, nil
}

// Index returns the position of the event with the given id, or -1.
func (s *Session) Index(id string) int {
	return slices.IndexFunc(s.Events, func(e Event) bool { return e.ID == id })
}

func (s *Session) Clone() *Session {
	return &Session{Events: slices.Clone(s.Events)}
}

// Resume applies every ResumeFrom event of the log in place. See Resume.
func (s *Session) Resume() {
	s.Events = Resume(s.Events)
}

// Resume rewrites events by scanning from the start. A ResumeFrom event whose
// target precedes it truncates the log right after the target; one whose
// target is unknown is dropped with a warning and leaves the rest untouched.
// No ResumeFrom event survives.
func Resume(events []Event) []Event {
	events = slices.Clone(events)
	for i := 0; i < len(events); {
		r, ok := events[i].Body.(ResumeFrom)
		if !ok {
			i++
			continue
		}

		target := slices.IndexFunc(events[:i], func(e Event) bool { return e.ID == r.TargetEventID })
		if target < 0 {
			slog.Warn("resume target not found, ignoring", "event", events[i].ID, "target", r.TargetEventID)
			events = slices.Delete(events, i, i+1)
			continue
		}

		slog.Debug("resuming session", "target", r.TargetEventID, "index", target, "dropped", len(events)-target-1)
		events = events[:target+1]
		i = target + 1
	}
	return events
}

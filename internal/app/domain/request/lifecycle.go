package request

import (
	"time"

	apperrors "github.com/servimap/servimap/internal/errors"
)

// Status is a lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDisputed   Status = "disputed"
	StatusSettled    Status = "settled"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusRejected, StatusCancelled, StatusExpired},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {StatusDisputed, StatusSettled},
	StatusDisputed:   {StatusSettled},
}

// CanTransition reports whether the machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether the request still occupies the provider's calendar.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress:
		return true
	}
	return false
}

// MoveTo applies a transition, appending to the history.
func (r *Request) MoveTo(to Status, actor, note string, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return apperrors.NewTransitionError("request", r.ID, string(r.Status), string(to))
	}
	r.History = append(r.History, Transition{From: r.Status, To: to, Actor: actor, Note: note, At: at.UTC()})
	r.Status = to
	r.UpdatedAt = at.UTC()
	return nil
}

package request

import (
	"testing"
	"time"

	apperrors "github.com/servimap/servimap/internal/errors"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusExpired},
		{StatusAccepted, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusCompleted, StatusDisputed},
		{StatusCompleted, StatusSettled},
		{StatusDisputed, StatusSettled},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Errorf("%s -> %s should be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]Status{
		{StatusPending, StatusCompleted},
		{StatusInProgress, StatusCancelled},
		{StatusSettled, StatusDisputed},
		{StatusDisputed, StatusCompleted},
		{StatusCancelled, StatusPending},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Errorf("%s -> %s should be denied", pair[0], pair[1])
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusSettled, StatusCancelled, StatusRejected, StatusExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusDisputed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestMoveToRecordsHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := Request{ID: "r1", Status: StatusPending}

	if err := req.MoveTo(StatusAccepted, "p1", "", now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := req.MoveTo(StatusCompleted, "p1", "", now); !apperrors.IsConflict(err) {
		t.Fatalf("expected transition conflict, got %v", err)
	}
	if req.Status != StatusAccepted || len(req.History) != 1 {
		t.Fatalf("unexpected state %s history=%d", req.Status, len(req.History))
	}
	h := req.History[0]
	if h.From != StatusPending || h.To != StatusAccepted || h.Actor != "p1" || !h.At.Equal(now) {
		t.Fatalf("unexpected transition %+v", h)
	}
}

func TestVisibility(t *testing.T) {
	req := Request{CustomerID: "c1", CandidateProviderIDs: []string{"p1", "p2"}, Status: StatusPending}
	if !req.Visible("c1") || !req.Visible("p2") || req.Visible("p3") {
		t.Fatalf("pending emergency should be visible to customer and candidates only")
	}
	req.Status = StatusAccepted
	req.ProviderID = "p1"
	if req.Visible("p2") {
		t.Fatalf("losing candidate should not see an accepted request")
	}
	if !req.IsParty("p1") {
		t.Fatalf("assigned provider is a party")
	}
}

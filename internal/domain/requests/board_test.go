package requests

import (
	"errors"
	"testing"
)

func TestBoardFilterAndStats(t *testing.T) {
	b := NewBoard()

	if got := b.Stats(); got != (Stats{Pending: 2, InProgress: 1, Resolved: 1, HighPriority: 1}) {
		t.Errorf("stats = %+v", got)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"all", Filter{}, []int{1, 2, 3, 4}},
		{"pending", Filter{Status: StatusPending}, []int{1, 4}},
		{"medium", Filter{Priority: PriorityMedium}, []int{1, 4}},
		{"pending high", Filter{Status: StatusPending, Priority: PriorityHigh}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.List(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d requests, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result[%d] = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestBoardUpdate(t *testing.T) {
	b := NewBoard()

	r, err := b.UpdateStatus(1, StatusResolved)
	if err != nil || r.Status != StatusResolved {
		t.Fatalf("update: %+v %v", r, err)
	}
	if got := b.Stats(); got.Pending != 1 || got.Resolved != 2 {
		t.Errorf("stats after update = %+v", got)
	}

	r, _ = b.Assign(4, "  ")
	if r.AssignedTo != Unassigned {
		t.Errorf("assignee = %q", r.AssignedTo)
	}
	r, _ = b.Assign(4, "Аналитик")
	if r.AssignedTo != "Аналитик" {
		t.Errorf("assignee = %q", r.AssignedTo)
	}

	if _, err := b.UpdateStatus(99, StatusPending); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestParse(t *testing.T) {
	if s, err := ParseStatus("all"); err != nil || s != "" {
		t.Errorf("all = %q %v", s, err)
	}
	if _, err := ParseStatus("closed"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("closed: %v", err)
	}
	if p, err := ParsePriority("high"); err != nil || p != PriorityHigh {
		t.Errorf("high = %q %v", p, err)
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("urgent: %v", err)
	}
}

// Package requests tracks user support requests for the monitoring board.
package requests

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrInvalidStatus   = errors.New("invalid request status")
	ErrInvalidPriority = errors.New("invalid request priority")
)

// Status of a request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

// Priority of a request.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// All matches any status or priority in a Filter.
const All = "all"

// Unassigned is the assignee label for requests nobody has picked up.
const Unassigned = "Не назначен"

// ParseStatus validates a status value. "all" and "" parse to "".
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusResolved:
		return Status(s), nil
	}
	if s == "" || s == All {
		return "", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// ParsePriority validates a priority value. "all" and "" parse to "".
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), nil
	}
	if s == "" || s == All {
		return "", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// Request is one entry on the board.
type Request struct {
	ID          int      `json:"id"`
	User        string   `json:"user"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	Time        string   `json:"time"`
	AssignedTo  string   `json:"assignedTo"`
}

// Filter narrows the list. Empty fields match everything.
type Filter struct {
	Status   Status
	Priority Priority
}

// Stats counts requests per status plus the high priority ones.
type Stats struct {
	Pending      int `json:"pending"`
	InProgress   int `json:"inProgress"`
	Resolved     int `json:"resolved"`
	HighPriority int `json:"highPriority"`
}

// Board holds the requests in display order.
type Board struct {
	mu    sync.RWMutex
	items []Request
}

// NewBoard returns a board seeded with the demo requests.
func NewBoard() *Board {
	return &Board{items: []Request{
		{ID: 1, User: "Анна Иванова", Type: "Запись к врачу", Description: "Запись на консультацию кардиолога", Status: StatusPending, Priority: PriorityMedium, Time: "2 часа назад", AssignedTo: "Др. Смирнова"},
		{ID: 2, User: "Петр Сидоров", Type: "Техподдержка", Description: "Проблема с доступом к личному кабинету", Status: StatusInProgress, Priority: PriorityHigh, Time: "1 час назад", AssignedTo: "Техподдержка"},
		{ID: 3, User: "Мария Козлова", Type: "Жалоба", Description: "Некорректная работа системы оплаты", Status: StatusResolved, Priority: PriorityLow, Time: "3 часа назад", AssignedTo: "Администратор"},
		{ID: 4, User: "Др. Петров", Type: "Запрос данных", Description: "Экспорт статистики пациентов", Status: StatusPending, Priority: PriorityMedium, Time: "30 мин назад", AssignedTo: Unassigned},
	}}
}

// List returns the requests matching f.
func (b *Board) List(f Filter) []Request {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Request, 0, len(b.items))
	for _, r := range b.items {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Stats counts over all requests regardless of any filter.
func (b *Board) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var s Stats
	for _, r := range b.items {
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusResolved:
			s.Resolved++
		}
		if r.Priority == PriorityHigh {
			s.HighPriority++
		}
	}
	return s
}

// UpdateStatus moves a request to status.
func (b *Board) UpdateStatus(id int, status Status) (Request, error) {
	if status == "" {
		return Request{}, ErrInvalidStatus
	}
	return b.update(id, func(r *Request) { r.Status = status })
}

// Assign sets the assignee. A blank name unassigns the request.
func (b *Board) Assign(id int, assignee string) (Request, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		assignee = Unassigned
	}
	return b.update(id, func(r *Request) { r.AssignedTo = assignee })
}

func (b *Board) update(id int, fn func(*Request)) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			fn(&b.items[i])
			return b.items[i], nil
		}
	}
	return Request{}, fmt.Errorf("request %d: %w", id, ErrRequestNotFound)
}

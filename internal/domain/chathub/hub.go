// Package chathub keeps the super-admin conversations with clients and staff.
package chathub

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrEmptyMessage = errors.New("message is empty")
)

// Sender is the display name of the dashboard operator.
const Sender = "Супер Админ"

// ContactType separates client chats from staff chats.
type ContactType string

const (
	ContactClient ContactType = "client"
	ContactAdmin  ContactType = "admin"
)

// Contact is one chat in the list.
type Contact struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Type        ContactType `json:"type"`
	LastMessage string      `json:"lastMessage"`
	Time        string      `json:"time"`
	Unread      int         `json:"unread"`
}

// Message is one chat line. IsUser marks messages sent by the operator.
type Message struct {
	ID      int64  `json:"id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Time    string `json:"time"`
	IsUser  bool   `json:"isUser"`
}

// Hub stores contacts and per-chat history.
type Hub struct {
	mu       sync.RWMutex
	contacts []Contact
	messages map[int][]Message
	lastID   int64
	now      func() time.Time
}

// NewHub returns a hub seeded with the demo conversations.
func NewHub(now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	return &Hub{
		now: now,
		contacts: []Contact{
			{ID: 1, Name: "Анна Иванова", Type: ContactClient, LastMessage: "Спасибо за помощь!", Time: "5 мин назад", Unread: 2},
			{ID: 2, Name: "Др. Петров", Type: ContactAdmin, LastMessage: "Нужна консультация", Time: "10 мин назад", Unread: 0},
			{ID: 3, Name: "Мария Козлова", Type: ContactClient, LastMessage: "Когда следующий прием?", Time: "1 час назад", Unread: 1},
		},
		messages: map[int][]Message{
			1: {
				{ID: 1, Sender: "Анна Иванова", Content: "Здравствуйте! У меня вопрос по поводу лечения", Time: "14:30"},
				{ID: 2, Sender: Sender, Content: "Здравствуйте! Я вас слушаю", Time: "14:32", IsUser: true},
				{ID: 3, Sender: "Анна Иванова", Content: "Спасибо за помощь!", Time: "14:35"},
			},
			2: {
				{ID: 1, Sender: "Др. Петров", Content: "Приветствую! Нужна ваша помощь с одним вопросом.", Time: "10:00"},
			},
			3: {
				{ID: 1, Sender: "Мария Козлова", Content: "Добрый день! Когда можно записаться на следующий прием?", Time: "11:15"},
				{ID: 2, Sender: Sender, Content: "Добрый! Уточню и сообщу вам.", Time: "11:17", IsUser: true},
			},
		},
	}
}

// Contacts returns the chat list.
func (h *Hub) Contacts() []Contact {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Contact(nil), h.contacts...)
}

// Messages returns a chat's history without changing its unread counter.
func (h *Hub) Messages(chatID int) ([]Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.indexOf(chatID) < 0 {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}
	return append([]Message(nil), h.messages[chatID]...), nil
}

// Select opens a chat: its unread counter is reset and its history returned.
func (h *Hub) Select(chatID int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexOf(chatID)
	if i < 0 {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}
	h.contacts[i].Unread = 0
	return append([]Message(nil), h.messages[chatID]...), nil
}

// Send appends an operator message and makes it the chat's last message.
func (h *Hub) Send(chatID int, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyMessage
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexOf(chatID)
	if i < 0 {
		return Message{}, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}

	now := h.now()
	id := now.UnixMilli()
	if id <= h.lastID {
		id = h.lastID + 1
	}
	h.lastID = id

	msg := Message{ID: id, Sender: Sender, Content: content, Time: now.Format("15:04"), IsUser: true}
	h.messages[chatID] = append(h.messages[chatID], msg)
	h.contacts[i].LastMessage = content
	h.contacts[i].Time = msg.Time
	return msg, nil
}

// Unread sums unread counters across chats.
func (h *Hub) Unread() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.contacts {
		n += c.Unread
	}
	return n
}

func (h *Hub) indexOf(chatID int) int {
	for i, c := range h.contacts {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}

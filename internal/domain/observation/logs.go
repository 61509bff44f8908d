package observation

import (
	"context"
	"time"
)

// LogType is the severity of a log entry.
type LogType string

const (
	LogInfo    LogType = "info"
	LogWarning LogType = "warning"
	LogError   LogType = "error"
)

// LogEntry is one line of the activity log.
type LogEntry struct {
	ID        int64   `json:"id"`
	Type      LogType `json:"type"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	User      string  `json:"user"`
}

// ActivitySource supplies persisted activity recorded by the event pipeline.
type ActivitySource interface {
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
}

const (
	manualMessage = "Ручное обновление системы"
	manualUser    = "super-admin"
	// ru-RU short date with medium time
	timestampLayout = "02.01.2006, 15:04:05"
)

func initialLogs() []LogEntry {
	return []LogEntry{
		{ID: 1, Type: LogInfo, Message: "Пользователь вошел в систему", Timestamp: "2024-01-15 14:30:00", User: "admin@medpro.ru"},
		{ID: 2, Type: LogWarning, Message: "Высокая нагрузка на сервер", Timestamp: "2024-01-15 14:25:00", User: "system"},
		{ID: 3, Type: LogError, Message: "Ошибка подключения к БД", Timestamp: "2024-01-15 14:20:00", User: "system"},
		{ID: 4, Type: LogInfo, Message: "Резервное копирование завершено", Timestamp: "2024-01-15 14:15:00", User: "system"},
		{ID: 5, Type: LogInfo, Message: "Новый пользователь зарегистрирован", Timestamp: "2024-01-15 14:10:00", User: "patient@email.ru"},
	}
}

// Logs returns the log newest first.
func (s *Sampler) Logs() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

// AddLog prepends a manual refresh entry with the next id.
func (s *Sampler) AddLog() LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	for _, l := range s.logs {
		if l.ID > maxID {
			maxID = l.ID
		}
	}
	entry := LogEntry{
		ID:        maxID + 1,
		Type:      LogInfo,
		Message:   manualMessage,
		Timestamp: s.now().Format(timestampLayout),
		User:      manualUser,
	}
	s.logs = append([]LogEntry{entry}, s.logs...)
	return entry
}

// FormatTimestamp renders t the way log entries show it.
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

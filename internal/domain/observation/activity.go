package observation

import (
	"context"

	"github.com/avishifo/records/internal/domain/events"
)

// DefaultActivityLimit caps the persisted activity returned with the log.
const DefaultActivityLimit = 50

var eventMessages = map[events.EventType]string{
	events.PatientCreated:    "Зарегистрирован новый пациент",
	events.PatientArchived:   "Пациент перемещен в архив",
	events.PatientUnarchived: "Пациент восстановлен из архива",
	events.PatientDeleted:    "Карта пациента удалена",
	events.MedicationAdded:   "Назначен препарат",
	events.MedicationDeleted: "Назначение отменено",
	events.VitalsAdded:       "Добавлены показатели",
	events.VitalsDeleted:     "Показатели удалены",
	events.HistoryAdded:      "Добавлена запись в историю болезни",
	events.HistoryDeleted:    "Запись истории болезни удалена",
	events.DocumentAdded:     "Загружен документ",
	events.DocumentDeleted:   "Документ удален",
	events.IntakeSubmitted:   "Заполнена анкета первичного осмотра",
	events.IntakeUpdated:     "Анкета первичного осмотра изменена",
	events.UserAdded:         "Новый пользователь зарегистрирован",
	events.UserEdited:        "Данные пользователя изменены",
	events.UserDeleted:       "Пользователь удален",
	events.UserBlocked:       "Пользователь заблокирован",
	events.UserUnblocked:     "Пользователь разблокирован",
}

// Describe returns the log severity and message for a domain event.
// Deletions and blocks are warnings.
func Describe(t events.EventType) (LogType, string) {
	msg, ok := eventMessages[t]
	if !ok {
		return LogInfo, string(t)
	}
	switch t {
	case events.PatientDeleted, events.UserDeleted, events.UserBlocked:
		return LogWarning, msg
	}
	return LogInfo, msg
}

// Activity reads persisted activity from src. A nil src yields no entries.
func Activity(ctx context.Context, src ActivitySource, limit int) ([]LogEntry, error) {
	if src == nil {
		return []LogEntry{}, nil
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return src.Recent(ctx, limit)
}

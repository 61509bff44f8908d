package crm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/validation"
)

const (
	defaultLastActive = "Только что"
	defaultLastVisit  = "Недавно"
	newUserWindow     = 7 * 24 * time.Hour
)

// Option configures a Directory.
type Option func(*Directory)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithStatsObserver is called with the new stats after every mutation.
func WithStatsObserver(fn func(Stats)) Option {
	return func(d *Directory) { d.observe = fn }
}

// WithoutSeed starts with empty lists.
func WithoutSeed() Option {
	return func(d *Directory) { d.noSeed = true }
}

// Directory holds the three user lists. Stats are recomputed under the same
// lock as each mutation so a View never mixes versions.
type Directory struct {
	mu       sync.RWMutex
	admins   []Admin
	doctors  []Doctor
	patients []PatientUser
	stats    Stats
	lastID   int64

	now     func() time.Time
	observe func(Stats)
	noSeed  bool
	sink    events.Sink
	logger  *zap.Logger
}

// NewDirectory creates a directory seeded with the demo users.
func NewDirectory(sink events.Sink, logger *zap.Logger, opts ...Option) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	d := &Directory{now: time.Now, sink: sink, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	if !d.noSeed {
		d.admins, d.doctors, d.patients = seed(d.now())
	}
	d.recompute()
	return d
}

type userPtr[T any] interface {
	*T
	base() *User
}

func find[T any, P userPtr[T]](list []T, id int64) P {
	for i := range list {
		if p := P(&list[i]); p.base().ID == id {
			return p
		}
	}
	return nil
}

func remove[T any, P userPtr[T]](list []T, id int64) ([]T, bool) {
	for i := range list {
		if P(&list[i]).base().ID == id {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

func filter[T any, P userPtr[T]](list []T, q Query) []T {
	out := make([]T, 0, len(list))
	needle := strings.ToLower(q.Search)
	for i := range list {
		u := P(&list[i]).base()
		if needle != "" &&
			!strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(strings.ToLower(u.Email), needle) {
			continue
		}
		switch q.Status {
		case FilterBlocked:
			if !u.Blocked {
				continue
			}
		case FilterActive:
			if u.Blocked {
				continue
			}
		}
		out = append(out, list[i])
	}
	return out
}

// Snapshot returns every list with the stats of the same version.
func (d *Directory) Snapshot() View {
	v, _ := d.Filter(Query{})
	return v
}

// Stats returns the current aggregate counters.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Filter returns the users matching q by name or email substring and block
// state. Lists outside q.Role are left nil.
func (d *Directory) Filter(q Query) (View, error) {
	switch q.Role {
	case "", RoleAdmin, RoleDoctor, RolePatient:
	default:
		return View{}, ErrUnknownRole
	}
	switch q.Status {
	case "", FilterAll, FilterBlocked, FilterActive:
	default:
		return View{}, fmt.Errorf("%w: %q", ErrUnknownFilter, q.Status)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	v := View{Stats: d.stats}
	if q.Role == "" || q.Role == RoleAdmin {
		v.Admins = filter(d.admins, q)
	}
	if q.Role == "" || q.Role == RoleDoctor {
		v.Doctors = filter(d.doctors, q)
	}
	if q.Role == "" || q.Role == RolePatient {
		v.Patients = filter(d.patients, q)
	}
	return v, nil
}

// ToggleBlock flips the blocked flag and returns the new value.
func (d *Directory) ToggleBlock(ctx context.Context, role Role, id int64) (bool, error) {
	d.mu.Lock()
	u, err := d.lookup(role, id)
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	u.Blocked = !u.Blocked
	blocked := u.Blocked
	d.recompute()
	d.mu.Unlock()

	eventType := events.UserUnblocked
	if blocked {
		eventType = events.UserBlocked
	}
	d.emit(ctx, role, id, eventType, map[string]interface{}{"blocked": blocked})
	return blocked, nil
}

// Delete removes a user.
func (d *Directory) Delete(ctx context.Context, role Role, id int64) error {
	d.mu.Lock()
	var ok bool
	switch role {
	case RoleAdmin:
		d.admins, ok = remove(d.admins, id)
	case RoleDoctor:
		d.doctors, ok = remove(d.doctors, id)
	case RolePatient:
		d.patients, ok = remove(d.patients, id)
	default:
		d.mu.Unlock()
		return ErrUnknownRole
	}
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%s %d: %w", role, id, ErrUserNotFound)
	}
	d.recompute()
	d.mu.Unlock()

	d.emit(ctx, role, id, events.UserDeleted, nil)
	return nil
}

// Add inserts a user at the head of its list and returns the new id.
func (d *Directory) Add(ctx context.Context, role Role, in Input) (int64, error) {
	if err := validation.Required(
		validation.Field{Name: "name", Value: in.Name},
		validation.Field{Name: "email", Value: in.Email},
	); err != nil {
		return 0, err
	}
	if in.Status != "" {
		if err := role.checkStatus(in.Status); err != nil {
			return 0, err
		}
	}

	d.mu.Lock()
	now := d.now()
	u := User{
		ID:        d.nextID(now),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Status:    in.Status,
		CreatedAt: now,
	}
	switch role {
	case RoleAdmin:
		if u.Status == "" {
			u.Status = StatusOnline
		}
		d.admins = append([]Admin{{User: u, Role: in.Title, LastActive: defaultLastActive}}, d.admins...)
	case RoleDoctor:
		if u.Status == "" {
			u.Status = StatusOnline
		}
		d.doctors = append([]Doctor{{User: u, Specialty: in.Specialty, Rating: in.Rating}}, d.doctors...)
	case RolePatient:
		if u.Status == "" {
			u.Status = StatusActive
		}
		plan := in.Plan
		if plan == "" {
			plan = PlanBasic
		}
		d.patients = append([]PatientUser{{User: u, Age: in.Age, LastVisit: defaultLastVisit, Plan: plan}}, d.patients...)
	default:
		d.mu.Unlock()
		return 0, ErrUnknownRole
	}
	d.recompute()
	d.mu.Unlock()

	d.emit(ctx, role, u.ID, events.UserAdded, in)
	return u.ID, nil
}

// Edit merges the set fields of p into the user. Set names and emails must
// be non-blank and a set status must suit the role.
func (d *Directory) Edit(ctx context.Context, role Role, id int64, p Patch) error {
	if err := p.validate(role); err != nil {
		return err
	}

	d.mu.Lock()
	u, err := d.lookup(role, id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Email != nil {
		u.Email = strings.TrimSpace(*p.Email)
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	switch role {
	case RoleAdmin:
		a := find(d.admins, id)
		setString(&a.Role, p.Title)
		setString(&a.LastActive, p.LastActive)
	case RoleDoctor:
		doc := find(d.doctors, id)
		setString(&doc.Specialty, p.Specialty)
		if p.Patients != nil {
			doc.Patients = *p.Patients
		}
		if p.Rating != nil {
			doc.Rating = *p.Rating
		}
	case RolePatient:
		pu := find(d.patients, id)
		setString(&pu.LastVisit, p.LastVisit)
		setString(&pu.Plan, p.Plan)
		if p.Age != nil {
			pu.Age = *p.Age
		}
	}
	d.recompute()
	d.mu.Unlock()

	d.emit(ctx, role, id, events.UserEdited, p)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// lookup must be called with d.mu held.
func (d *Directory) lookup(role Role, id int64) (*User, error) {
	var u *User
	switch role {
	case RoleAdmin:
		if a := find(d.admins, id); a != nil {
			u = &a.User
		}
	case RoleDoctor:
		if doc := find(d.doctors, id); doc != nil {
			u = &doc.User
		}
	case RolePatient:
		if p := find(d.patients, id); p != nil {
			u = &p.User
		}
	default:
		return nil, ErrUnknownRole
	}
	if u == nil {
		return nil, fmt.Errorf("%s %d: %w", role, id, ErrUserNotFound)
	}
	return u, nil
}

// nextID must be called with d.mu held.
func (d *Directory) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= d.lastID {
		id = d.lastID + 1
	}
	d.lastID = id
	return id
}

// recompute must be called with d.mu held.
func (d *Directory) recompute() {
	now := d.now()
	s := Stats{
		Admins:   len(d.admins),
		Doctors:  len(d.doctors),
		Patients: len(d.patients),
	}
	s.TotalUsers = s.Admins + s.Doctors + s.Patients

	count := func(u *User) {
		if u.Blocked {
			s.BlockedUsers++
		} else if u.Status == StatusOnline || u.Status == StatusActive {
			s.ActiveToday++
		}
		if now.Sub(u.CreatedAt) < newUserWindow {
			s.NewThisWeek++
		}
	}
	for i := range d.admins {
		count(&d.admins[i].User)
	}
	for i := range d.doctors {
		count(&d.doctors[i].User)
	}
	for i := range d.patients {
		count(&d.patients[i].User)
		if d.patients[i].Plan == PlanPremium {
			s.PremiumUsers++
		}
	}
	d.stats = s
	if d.observe != nil {
		d.observe(s)
	}
}

func (d *Directory) emit(ctx context.Context, role Role, id int64, eventType events.EventType, data interface{}) {
	payload := map[string]interface{}{"role": role}
	if data != nil {
		payload["change"] = data
	}
	event, err := events.FromContext(ctx, events.AggregateUser, string(role)+"/"+strconv.FormatInt(id, 10), eventType, payload)
	if err != nil {
		d.logger.Error("failed to build user event", zap.Error(err))
		return
	}
	if err := d.sink.Record(ctx, event); err != nil {
		d.logger.Warn("failed to record user event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

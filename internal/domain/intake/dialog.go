package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is a dialog lifecycle state.
type State string

const (
	StateClosed     State = "closed"
	StateOpen       State = "open"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
)

// ErrInvalidTransition is returned when an action is not allowed in the
// dialog's current state.
var ErrInvalidTransition = errors.New("invalid dialog transition")

// SendFunc delivers a validated record to its destination.
type SendFunc func(ctx context.Context, patientID string, r Record) error

// Dialog drives one intake form from open to submitted. Each dialog owns its
// form state.
type Dialog struct {
	mu     sync.Mutex
	state  State
	editID string
	form   Record
	err    error
}

// NewDialog returns a closed dialog.
func NewDialog() *Dialog {
	return &Dialog{state: StateClosed}
}

// Open starts editing. A nil prefill opens a blank form; otherwise the form is
// loaded from the stored record and submit saves over it.
func (d *Dialog) Open(prefill *Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateClosed {
		return fmt.Errorf("%w: open from %s", ErrInvalidTransition, d.state)
	}
	d.form = NewRecord()
	d.editID = ""
	if prefill != nil {
		d.form = LoadForEdit(*prefill)
		d.editID = prefill.ID
	}
	d.err = nil
	d.state = StateOpen
	return nil
}

// Edit applies fn to the open form.
func (d *Dialog) Edit(fn func(*Record) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateOpen {
		return fmt.Errorf("%w: edit in %s", ErrInvalidTransition, d.state)
	}
	return fn(&d.form)
}

// Cancel discards the form. Not allowed once submission has started.
func (d *Dialog) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateOpen, StateValidating:
		d.reset()
		return nil
	default:
		return fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, d.state)
	}
}

// Submit validates the form and hands it to send. Validation or send failures
// leave the dialog open with the error recorded; success closes and resets it.
func (d *Dialog) Submit(ctx context.Context, patientID string, send SendFunc) error {
	d.mu.Lock()
	if d.state != StateOpen {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: submit in %s", ErrInvalidTransition, state)
	}
	d.state = StateValidating
	if err := ReadyToSubmit(patientID, d.form); err != nil {
		d.state = StateOpen
		d.err = err
		d.mu.Unlock()
		return err
	}
	d.state = StateSubmitting
	form := d.form.Clone()
	form.ID = d.editID
	form.PatientID = patientID
	d.mu.Unlock()

	err := send(ctx, patientID, form)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = StateOpen
		d.err = err
		return err
	}
	d.reset()
	return nil
}

// Editing reports whether the dialog saves over an existing record.
func (d *Dialog) Editing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.editID != ""
}

// State returns the current state.
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the last validation or submission error.
func (d *Dialog) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Form returns a copy of the form being edited.
func (d *Dialog) Form() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.form.Clone()
}

func (d *Dialog) reset() {
	d.state = StateClosed
	d.form = Record{}
	d.editID = ""
	d.err = nil
}

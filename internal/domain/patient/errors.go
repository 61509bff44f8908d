package patient

import "errors"

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrItemNotFound    = errors.New("record item not found")
)

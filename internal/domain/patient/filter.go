package patient

import "strings"

// Filter selects patients for the list view.
type Filter struct {
	// Search is matched case-insensitively against name, last diagnosis and id.
	Search string
	// Status must match exactly when set.
	Status Status
	// IncludeArchived lists archived and active patients together.
	IncludeArchived bool
	// ArchivedOnly lists only archived patients.
	ArchivedOnly bool
}

// Matches reports whether p passes the filter.
func (f Filter) Matches(p Patient) bool {
	switch {
	case f.ArchivedOnly && !p.Archived:
		return false
	case !f.ArchivedOnly && !f.IncludeArchived && p.Archived:
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.LastDiagnosis), q) ||
		strings.Contains(strings.ToLower(p.ID), q)
}

// Apply returns copies of the matching patients in their original order.
// The input slice is never modified.
func Apply(patients []Patient, f Filter) []Patient {
	out := make([]Patient, 0, len(patients))
	for _, p := range patients {
		if f.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

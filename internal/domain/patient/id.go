package patient

import (
	"bytes"
	"encoding/json"
)

// FlexID is a server-assigned identifier sent either as a JSON string or a
// number. It decodes to its decimal text.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

// The owned collection types keep string ids; their decoders read the id
// through FlexID and everything else through the plain field set.

func (m *Medication) UnmarshalJSON(data []byte) error {
	type plain Medication
	aux := struct {
		*plain
		ID FlexID `json:"id"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.ID = string(aux.ID)
	return nil
}

func (v *VitalSign) UnmarshalJSON(data []byte) error {
	type plain VitalSign
	aux := struct {
		*plain
		ID FlexID `json:"id"`
	}{plain: (*plain)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.ID = string(aux.ID)
	return nil
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	type plain HistoryEntry
	aux := struct {
		*plain
		ID       FlexID `json:"id"`
		IntakeID FlexID `json:"intakeId"`
	}{plain: (*plain)(h)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	h.ID = string(aux.ID)
	h.IntakeID = string(aux.IntakeID)
	return nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	aux := struct {
		*plain
		ID FlexID `json:"id"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.ID = string(aux.ID)
	return nil
}

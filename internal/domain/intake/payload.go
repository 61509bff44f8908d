package intake

import (
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"
)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// EncodeMultipart writes the record as clinic API form fields. Each system's
// pending files are written once under that system's upload field.
func EncodeMultipart(mw *multipart.Writer, patientID string, r Record) error {
	fields := [][2]string{
		{fieldPatient, patientID},
		{fieldFISH, r.Basic.FISH},
		{fieldBirthDate, r.Basic.BirthDate},
		{fieldNationality, r.Basic.Nationality},
		{fieldEducation, r.Basic.Education},
		{fieldProfession, r.Basic.Profession},
		{fieldWorkplace, r.Basic.Workplace},
		{fieldWorkPosition, r.Basic.WorkPosition},
		{fieldHomeAddress, r.Basic.HomeAddress},
		{fieldVisitDate, r.Basic.VisitDate},
		{fieldMainComplaints, r.Basic.MainComplaints},
		{fieldSystemicDiseases, r.Basic.SystemicDiseases},
	}
	for _, spec := range schema {
		for _, sym := range spec.symptoms {
			fields = append(fields, [2]string{sym.field, r.Symptom(spec.system, sym.symptom)})
		}
	}
	fields = append(fields, [2]string{fieldRecommendations, r.DoctorRecommendations})

	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := writeFiles(mw, fieldSystemicFile, r.SystemicFiles); err != nil {
		return err
	}
	for _, spec := range schema {
		if err := writeFiles(mw, spec.fileField, r.Files(spec.system)); err != nil {
			return err
		}
	}
	return nil
}

func writeFiles(mw *multipart.Writer, field string, files []Attachment) error {
	for _, f := range files {
		if !f.Pending() {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("write file %s: %w", f.Name, err)
		}
	}
	return nil
}

// DecodeForm builds a record from submitted form values and files using the
// clinic API field names. Only symptoms present in values are set. Files sent
// under a per-symptom "<field>_hujjat" key are folded into the owning
// system's list.
func DecodeForm(values map[string][]string, files map[string][]Attachment) (patientID string, r Record) {
	get := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	patientID = get(fieldPatient)
	if patientID == "" {
		patientID = get(fieldPatientID)
	}

	r = NewRecord()
	r.ID = get("id")
	r.PatientID = patientID
	r.Basic = Basic{
		FISH:             get(fieldFISH),
		BirthDate:        get(fieldBirthDate),
		Nationality:      get(fieldNationality),
		Education:        get(fieldEducation),
		Profession:       get(fieldProfession),
		Workplace:        get(fieldWorkplace),
		WorkPosition:     get(fieldWorkPosition),
		HomeAddress:      get(fieldHomeAddress),
		VisitDate:        get(fieldVisitDate),
		MainComplaints:   get(fieldMainComplaints),
		SystemicDiseases: get(fieldSystemicDiseases),
	}
	r.DoctorRecommendations = get(fieldRecommendations)
	r.SystemicFiles = appendUnique(nil, files[fieldSystemicFile]...)

	for _, spec := range schema {
		block := Block{Fields: make(map[Symptom]string, len(spec.symptoms))}
		block.Files = appendUnique(block.Files, files[spec.fileField]...)
		for _, sym := range spec.symptoms {
			if _, ok := values[sym.field]; ok {
				block.Fields[sym.symptom] = get(sym.field)
			}
			block.Files = appendUnique(block.Files, files[sym.field+fileSuffix]...)
		}
		r.Systems[spec.system] = block
	}
	return patientID, r
}

// PatchFromForm returns the basic fields and recommendations present in
// submitted form values
func PatchFromForm(values map[string][]string) Patch {
	get := func(key string) *string {
		v, ok := values[key]
		if !ok {
			return nil
		}
		s := ""
		if len(v) > 0 {
			s = v[0]
		}
		return &s
	}
	return Patch{
		Basic: BasicPatch{
			FISH:             get(fieldFISH),
			BirthDate:        get(fieldBirthDate),
			Nationality:      get(fieldNationality),
			Education:        get(fieldEducation),
			Profession:       get(fieldProfession),
			Workplace:        get(fieldWorkplace),
			WorkPosition:     get(fieldWorkPosition),
			HomeAddress:      get(fieldHomeAddress),
			VisitDate:        get(fieldVisitDate),
			MainComplaints:   get(fieldMainComplaints),
			SystemicDiseases: get(fieldSystemicDiseases),
		},
		DoctorRecommendations: get(fieldRecommendations),
	}
}

// FromServer maps a clinic API intake object into a record. Server aliases
// for renamed fields are accepted and file URLs become stored attachments.
func FromServer(obj map[string]interface{}) Record {
	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := obj[k]; ok && v != nil {
				if s := scalarString(v); s != "" {
					return s
				}
			}
		}
		return ""
	}
	stored := func(keys ...string) []Attachment {
		var out []Attachment
		for _, k := range keys {
			out = appendUnique(out, storedFiles(obj[k])...)
		}
		return out
	}

	r := NewRecord()
	r.ID = str("id")
	r.PatientID = str(fieldPatient, fieldPatientID)
	r.Basic = Basic{
		FISH:             str(fieldFISH),
		BirthDate:        str(fieldBirthDate),
		Nationality:      str(fieldNationality),
		Education:        str(fieldEducation),
		Profession:       str(fieldProfession),
		Workplace:        str(fieldWorkplace),
		WorkPosition:     str(fieldWorkPosition),
		HomeAddress:      str(fieldHomeAddress),
		VisitDate:        str(fieldVisitDate),
		MainComplaints:   str(fieldMainComplaints),
		SystemicDiseases: str(fieldSystemicDiseases),
	}
	r.DoctorRecommendations = str(fieldRecommendations, aliasRecommendations)
	r.SystemicFiles = stored(fieldSystemicFile)

	if ts := str(fieldSubmittedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.SubmittedAt = t.UTC()
		}
	}

	for _, spec := range schema {
		block := Block{Fields: make(map[Symptom]string, len(spec.symptoms))}
		block.Files = stored(spec.fileField)
		for _, sym := range spec.symptoms {
			block.Fields[sym.symptom] = str(append([]string{sym.field}, sym.aliases...)...)
			block.Files = appendUnique(block.Files, stored(sym.field+fileSuffix)...)
		}
		r.Systems[spec.system] = block
	}
	return r
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func storedFiles(v interface{}) []Attachment {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []Attachment{{Name: path.Base(t), URL: t}}
	case []interface{}:
		var out []Attachment
		for _, item := range t {
			switch f := item.(type) {
			case string:
				out = append(out, storedFiles(f)...)
			case map[string]interface{}:
				url := scalarString(f["file"])
				if url == "" {
					url = scalarString(f["url"])
				}
				if url != "" {
					out = append(out, Attachment{Name: path.Base(url), URL: url})
				}
			}
		}
		return out
	default:
		return nil
	}
}

package intake

import (
	"regexp"
	"strings"
)

// NotSpecified is printed in rendered notes for empty values.
const NotSpecified = "Не указано"

type basicLabel struct {
	label string
	get   func(*Basic) *string
}

var basicLabels = []basicLabel{
	{"F.I.SH", func(b *Basic) *string { return &b.FISH }},
	{"Tug'ilgan sanasi", func(b *Basic) *string { return &b.BirthDate }},
	{"Millati", func(b *Basic) *string { return &b.Nationality }},
	{"Ma'lumoti", func(b *Basic) *string { return &b.Education }},
	{"Kasbi", func(b *Basic) *string { return &b.Profession }},
	{"Ish joyi", func(b *Basic) *string { return &b.Workplace }},
	{"Ish joyidagi vazifasi", func(b *Basic) *string { return &b.WorkPosition }},
	{"Uy manzili", func(b *Basic) *string { return &b.HomeAddress }},
}

const (
	titleBasic            = "ASOSIY MA'LUMOTLAR"
	titleComplaints       = "KELGAN VAQTDAGI SHIKOYATLARI"
	titleSystemic         = "BEMORNING ASOSIY TIZIMLI KASALLIKLARI"
	titleRecommendations  = "DOKTOR TAVSIYALARI"
	labelGeneralComplaint = "Umumiy shikoyatlar"
)

// RenderNotes formats a record as the human-readable notes text shown in the
// history view. The text is for display only.
func RenderNotes(r Record) string {
	var b strings.Builder
	b.WriteString(titleBasic + ":\n")
	basic := r.Basic
	for _, l := range basicLabels {
		b.WriteString(l.label + ": " + orNotSpecified(*l.get(&basic)) + "\n")
	}
	b.WriteString("\n" + titleComplaints + ":\n" + orNotSpecified(r.Basic.MainComplaints) + "\n")
	b.WriteString("\n" + titleSystemic + ":\n" + orNotSpecified(r.Basic.SystemicDiseases) + "\n")

	for _, def := range schema {
		b.WriteString("\n" + def.title + ":\n")
		for _, sym := range def.symptoms {
			v := orNotSpecified(r.Symptom(def.system, sym.symptom))
			if sym.label == "" {
				b.WriteString(v + "\n")
				continue
			}
			b.WriteString(sym.label + ": " + v + "\n")
		}
	}

	b.WriteString("\n" + titleRecommendations + ":\n" + orNotSpecified(r.DoctorRecommendations))
	return b.String()
}

// ParseLegacyNotes recovers a record from notes text produced by older
// clients. Each value is the first single-line match after its label, so
// values containing another label or a newline do not survive, and empty
// values come back as NotSpecified. It serves history entries that predate
// structured records.
func ParseLegacyNotes(notes string) Record {
	r := NewRecord()
	for _, l := range basicLabels {
		*l.get(&r.Basic) = firstMatch(notes, regexp.QuoteMeta(l.label)+`:`)
	}
	r.Basic.MainComplaints = firstMatch(notes, regexp.QuoteMeta(titleComplaints)+`:`)
	r.Basic.SystemicDiseases = firstMatch(notes, regexp.QuoteMeta(titleSystemic)+`:`)
	r.DoctorRecommendations = firstMatch(notes, regexp.QuoteMeta(titleRecommendations)+`:`)

	for _, def := range schema {
		block := Block{Fields: make(map[Symptom]string, len(def.symptoms))}
		for _, sym := range def.symptoms {
			var prefix string
			switch {
			case sym.label == "":
				prefix = regexp.QuoteMeta(def.title) + `:`
			case sym.label == labelGeneralComplaint && def.system != Respiratory:
				prefix = regexp.QuoteMeta(def.title) + `:\s*` + regexp.QuoteMeta(sym.label) + `:`
			default:
				prefix = regexp.QuoteMeta(sym.label) + `:`
			}
			block.Fields[sym.symptom] = firstMatch(notes, prefix)
		}
		r.Systems[def.system] = block
	}
	return r
}

func firstMatch(text, prefix string) string {
	re := regexp.MustCompile(prefix + `\s*(.+?)(?:\n|$)`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func orNotSpecified(v string) string {
	if strings.TrimSpace(v) == "" {
		return NotSpecified
	}
	return v
}

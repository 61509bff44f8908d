package intake

// System is one body-system block of the intake form.
type System string

const (
	Respiratory     System = "respiratory"
	Cardiovascular  System = "cardiovascular"
	Digestive       System = "digestive"
	Urinary         System = "urinary"
	Endocrine       System = "endocrine"
	Musculoskeletal System = "musculoskeletal"
	Nervous         System = "nervous"
)

// Symptom names a free-text field inside a system block.
type Symptom string

const (
	General        Symptom = "general"
	Cough          Symptom = "cough"
	Sputum         Symptom = "sputum"
	Hemoptysis     Symptom = "hemoptysis"
	ChestPain      Symptom = "chestPain"
	Dyspnea        Symptom = "dyspnea"
	HeartPain      Symptom = "heartPain"
	HeartRhythm    Symptom = "heartRhythm"
	Palpitations   Symptom = "palpitations"
	Vomiting       Symptom = "vomiting"
	AbdominalPain  Symptom = "abdominalPain"
	EpigastricPain Symptom = "epigastricPain"
	BowelMovements Symptom = "bowelMovements"
	AnalSymptoms   Symptom = "analSymptoms"
)

type symptomSpec struct {
	symptom Symptom
	field   string
	aliases []string
	label   string
}

type systemSpec struct {
	system    System
	title     string
	fileField string
	symptoms  []symptomSpec
}

// schema lists systems and symptoms in form order with their clinic API field
// names. Labels are the headings used in rendered notes.
var schema = []systemSpec{
	{
		system:    Respiratory,
		title:     "NAFAS TIZIMIGA OID SHIKOYATLARI",
		fileField: "nafas_tizimi_hujjat",
		symptoms: []symptomSpec{
			{symptom: General, field: "nafas_tizimi", label: "Umumiy shikoyatlar"},
			{symptom: Cough, field: "yotal", label: "Yo'tal"},
			{symptom: Sputum, field: "balgam", label: "Balg'am"},
			{symptom: Hemoptysis, field: "qon_tuflash", label: "Qon tuflash"},
			{symptom: ChestPain, field: "kokrak_ogriq", label: "Ko'krak qafasidagi og'riq"},
			{symptom: Dyspnea, field: "nafas_qisishi", label: "Nafas qisishi"},
		},
	},
	{
		system:    Cardiovascular,
		title:     "YURAK QON AYLANISHI TIZIMI FAOLIYATIGA OID SHIKOYATLARI",
		fileField: "yurak_qon_shikoyatlari_hujjat",
		symptoms: []symptomSpec{
			{symptom: General, field: "yurak_qon_shikoyatlari", label: "Umumiy shikoyatlar"},
			{symptom: HeartPain, field: "yurak_ogriq", label: "Yurak sohasidagi og'riq"},
			{symptom: HeartRhythm, field: "yurak_urishi_ozgarishi", label: "Yurak urishining o'zgarishi"},
			{symptom: Palpitations, field: "yurak_urishi_sezish", label: "Yurak urishini bemor his qilishi"},
		},
	},
	{
		system:    Digestive,
		title:     "HAZM TIZIMI FAOLIYATIGA OID SHIKOYATLARI",
		fileField: "hazm_tizimi_hujjat",
		symptoms: []symptomSpec{
			{symptom: General, field: "hazm_tizimi", label: "Umumiy shikoyatlar"},
			{symptom: Vomiting, field: "qusish", label: "Qusish"},
			{symptom: AbdominalPain, field: "qorin_ogriq", label: "Qorin og'riqi"},
			{symptom: EpigastricPain, field: "qorin_shish", label: "To'sh osti va boshqa sohalarda og'riq"},
			{symptom: BowelMovements, field: "ich_ozgarishi", label: "Ich kelishining o'zgarishi"},
			{symptom: AnalSymptoms, field: "anus_shikoyatlar", label: "Anus sohasidagi simptomlar"},
		},
	},
	{
		system:    Urinary,
		title:     "SIYDIK AJRATISH TIZIMI FAOLIYATIGA OID SHIKOYATLARI",
		fileField: "siydik_tizimi_hujjat",
		symptoms:  []symptomSpec{{symptom: General, field: "siydik_tizimi"}},
	},
	{
		system:    Endocrine,
		title:     "ENDOKRIN TIZIMI FAOLIYATIGA OID SHIKOYATLARI",
		fileField: "endokrin_tizimi_hujjat",
		symptoms:  []symptomSpec{{symptom: General, field: "endokrin_tizimi"}},
	},
	{
		system: Musculoskeletal,
		title:  "TAYANCH HARAKAT TIZIMI FAOLIYATIGA OID SHIKOYATLARI",
		// The clinic API spells this upload field without the "ak".
		fileField: "tayanch_harat_hujjat",
		symptoms: []symptomSpec{
			{symptom: General, field: "tayanch_harakat", aliases: []string{"tayanch_tizimi"}},
		},
	},
	{
		system:    Nervous,
		title:     "ASAB TIZIMI",
		fileField: "asab_tizimi_hujjat",
		symptoms:  []symptomSpec{{symptom: General, field: "asab_tizimi"}},
	},
}

// Basic block field names on the clinic API.
const (
	fieldPatient          = "patient"
	fieldPatientID        = "patient_id"
	fieldFISH             = "fish"
	fieldBirthDate        = "tugilgan_sana"
	fieldNationality      = "millati"
	fieldEducation        = "malumoti"
	fieldProfession       = "kasbi"
	fieldWorkplace        = "ish_joyi"
	fieldWorkPosition     = "ish_vazifasi"
	fieldHomeAddress      = "uy_manzili"
	fieldVisitDate        = "kelgan_vaqti"
	fieldMainComplaints   = "shikoyatlar"
	fieldSystemicDiseases = "asosiy_kasalliklar"
	fieldSystemicFile     = "asosiy_kasalliklar_hujjat"
	fieldRecommendations  = "doctor_recommendations"
	aliasRecommendations  = "doktor_tavsiyalari"
	fieldSubmittedAt      = "yuborilgan_vaqt"
	fileSuffix            = "_hujjat"
)

// Systems returns the body systems in form order.
func Systems() []System {
	out := make([]System, len(schema))
	for i, s := range schema {
		out[i] = s.system
	}
	return out
}

// Symptoms returns the symptom fields of a system in form order.
func Symptoms(s System) []Symptom {
	spec, ok := lookupSystem(s)
	if !ok {
		return nil
	}
	out := make([]Symptom, len(spec.symptoms))
	for i, sym := range spec.symptoms {
		out[i] = sym.symptom
	}
	return out
}

func lookupSystem(s System) (systemSpec, bool) {
	for _, spec := range schema {
		if spec.system == s {
			return spec, true
		}
	}
	return systemSpec{}, false
}

func (s systemSpec) hasSymptom(sym Symptom) bool {
	for _, spec := range s.symptoms {
		if spec.symptom == sym {
			return true
		}
	}
	return false
}

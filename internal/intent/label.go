// Package intent defines the closed set of intent labels the dispatcher understands
// and the insertion-ordered queue a turn keeps them in.
//
// Every label carries a fixed rank. Lower rank means higher priority:
//
//	MEDICAL_ASSESSMENT (10) < SCHEDULING (20) < SALES (30) < TECH_FAQ (40) < GENERAL_INFO (50)
//
// Adding a label takes two edits: a new constant and a row in labelTable.
package intent

import "strings"

// Label is one intent category.
type Label uint8

const (
	Unknown Label = iota
	MedicalAssessment
	Scheduling
	Sales
	TechFAQ
	GeneralInfo
)

type labelInfo struct {
	name string
	rank int
}

// labelTable is indexed by Label. Ranks need not be contiguous.
var labelTable = [...]labelInfo{
	Unknown:           {"UNKNOWN", 1 << 30},
	MedicalAssessment: {"MEDICAL_ASSESSMENT", 10},
	Scheduling:        {"SCHEDULING", 20},
	Sales:             {"SALES", 30},
	TechFAQ:           {"TECH_FAQ", 40},
	GeneralInfo:       {"GENERAL_INFO", 50},
}

// All returns every valid label in priority order.
func All() []Label {
	return []Label{MedicalAssessment, Scheduling, Sales, TechFAQ, GeneralInfo}
}

// Count is the number of valid labels. The dispatcher derives its
// iteration ceiling from it.
func Count() int { return len(labelTable) - 1 }

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool { return l > Unknown && int(l) < len(labelTable) }

// Rank returns the priority rank (lower = served first).
func (l Label) Rank() int {
	if !l.Valid() {
		return labelTable[Unknown].rank
	}
	return labelTable[l].rank
}

func (l Label) String() string {
	if !l.Valid() {
		return labelTable[Unknown].name
	}
	return labelTable[l].name
}

// MarshalText renders the wire name.
func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText accepts wire names and classifier aliases. Unrecognised
// values decode to GeneralInfo.
func (l *Label) UnmarshalText(b []byte) error {
	parsed, ok := Parse(string(b))
	if !ok {
		parsed = GeneralInfo
	}
	*l = parsed
	return nil
}

// aliases folds the wider classifier vocabulary into the closed set.
var aliases = map[string]Label{
	"MEDICAL_ASSESSMENT":    MedicalAssessment,
	"IMAGE_ASSESSMENT":      MedicalAssessment,
	"INTAKE":                MedicalAssessment,
	"SCHEDULING":            Scheduling,
	"SERVICE_SCHEDULING":    Scheduling,
	"SERVICE_RESCHEDULING":  Scheduling,
	"SERVICE_CANCELLATION":  Scheduling,
	"SALES":                 Sales,
	"AD_CONVERSION":         Sales,
	"ORGANIC_INQUIRY":       Sales,
	"OFFER_CONVERSION":      Sales,
	"REENGAGEMENT_RECOVERY": Sales,
	"TECH_FAQ":              TechFAQ,
	"PROCEDURE_INQUIRY":     TechFAQ,
	"GENERAL_INFO":          GeneralInfo,
	"SESSION_START":         GeneralInfo,
	"SESSION_CLOSURE":       GeneralInfo,
	"HUMAN_ESCALATION":      GeneralInfo,
	"UNCLASSIFIED":          GeneralInfo,
}

// Parse maps a raw label (any case, surrounding quotes/space tolerated) to a Label.
func Parse(raw string) (Label, bool) {
	key := strings.ToUpper(strings.Trim(strings.TrimSpace(raw), `"'`))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	l, ok := aliases[key]
	return l, ok
}

// ParseList parses classifier output that may arrive as a list of strings or as
// a single bracketed string such as "['SCHEDULING', 'SALES']". Unrecognised
// entries become GeneralInfo; duplicates are dropped; order is preserved.
func ParseList(raw []string) []Label {
	var parts []string
	for _, r := range raw {
		cleaned := strings.NewReplacer("[", "", "]", "", "'", "", `"`, "").Replace(r)
		for _, p := range strings.Split(cleaned, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}

	out := make([]Label, 0, len(parts))
	seen := make(map[Label]bool, len(parts))
	for _, p := range parts {
		l, ok := Parse(p)
		if !ok {
			l = GeneralInfo
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

package model

import "fmt"

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationFinding is one preflight observation. Check is a dotted key such
// as "tools.java.missing".
type ValidationFinding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

type ValidationResult struct {
	Subject  string              `json:"subject"`
	Errors   int                 `json:"errors"`
	Warnings int                 `json:"warnings"`
	Infos    int                 `json:"infos"`
	Findings []ValidationFinding `json:"findings"`
}

func (r *ValidationResult) Add(f ValidationFinding) {
	r.Findings = append(r.Findings, f)
	switch f.Severity {
	case SeverityError:
		r.Errors++
	case SeverityWarning:
		r.Warnings++
	case SeverityInfo:
		r.Infos++
	}
}

// Merge appends the findings of other, keeping the counters in step.
// The receiver's Subject is kept.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, f := range other.Findings {
		r.Add(f)
	}
}

func (r *ValidationResult) Valid() bool {
	return r.Errors == 0
}

// Finding returns the first finding recorded for check.
func (r *ValidationResult) Finding(check string) (ValidationFinding, bool) {
	for _, f := range r.Findings {
		if f.Check == check {
			return f, true
		}
	}
	return ValidationFinding{}, false
}

func (r *ValidationResult) Has(check string) bool {
	_, ok := r.Finding(check)
	return ok
}

// BySeverity returns the findings of one severity in the order they were added.
func (r *ValidationResult) BySeverity(sev Severity) []ValidationFinding {
	var out []ValidationFinding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// Summary renders the counters the way the health endpoint and CLI report them.
func (r *ValidationResult) Summary() string {
	if r.Errors > 0 {
		return fmt.Sprintf("%d error(s), %d warning(s)", r.Errors, r.Warnings)
	}
	return fmt.Sprintf("%d warning(s)", r.Warnings)
}

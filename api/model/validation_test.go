package model

import "testing"

func TestValidationMerge(t *testing.T) {
	local := &ValidationResult{Subject: "/srv/deploy"}
	local.Add(ValidationFinding{Check: "tools.java.missing", Severity: SeverityWarning, Message: "java"})

	mirror := &ValidationResult{Subject: "mirror"}
	mirror.Add(ValidationFinding{Check: "mirror.unreachable", Severity: SeverityError, Message: "down"})
	mirror.Add(ValidationFinding{Check: "mirror.disabled", Severity: SeverityInfo, Message: "off"})

	local.Merge(mirror)
	local.Merge(nil)

	if local.Subject != "/srv/deploy" {
		t.Errorf("Subject = %q", local.Subject)
	}
	if local.Errors != 1 || local.Warnings != 1 || local.Infos != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", local.Errors, local.Warnings, local.Infos)
	}
	if len(local.Findings) != 3 || local.Valid() {
		t.Errorf("findings = %+v, valid = %v", local.Findings, local.Valid())
	}
	if local.Summary() != "1 error(s), 1 warning(s)" {
		t.Errorf("Summary = %q", local.Summary())
	}
}

func TestValidationLookup(t *testing.T) {
	r := &ValidationResult{}
	r.Add(ValidationFinding{Check: "storage.public.unwritable", Severity: SeverityError, Message: "first"})
	r.Add(ValidationFinding{Check: "storage.public.unwritable", Severity: SeverityError, Message: "second"})
	r.Add(ValidationFinding{Check: "build.timeout.short", Severity: SeverityWarning, Message: "short"})

	f, ok := r.Finding("storage.public.unwritable")
	if !ok || f.Message != "first" {
		t.Errorf("Finding = %+v, %v", f, ok)
	}
	if r.Has("mirror.disabled") {
		t.Error("unexpected mirror.disabled")
	}
	if got := r.BySeverity(SeverityError); len(got) != 2 {
		t.Errorf("errors = %+v", got)
	}
	if got := r.BySeverity(SeverityInfo); got != nil {
		t.Errorf("infos = %+v, want nil", got)
	}
	if (&ValidationResult{Warnings: 2}).Summary() != "2 warning(s)" {
		t.Error("warning-only summary")
	}
}

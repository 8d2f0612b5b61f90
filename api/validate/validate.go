// Package validate checks that the host can actually run builds before the
// first request arrives.
package validate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"apkforge/api/config"
	"apkforge/api/model"
)

type HealthChecker interface {
	Healthy(ctx context.Context) error
}

type Validator struct {
	Config   *config.Config
	Mirror   HealthChecker // optional
	LookPath func(file string) (string, error)
}

func (v *Validator) Validate(ctx context.Context) *model.ValidationResult {
	result := &model.ValidationResult{Subject: v.Config.DeployDir, Findings: []model.ValidationFinding{}}
	v.checkProject(result)
	v.checkTools(result)
	checkWritable(v.Config.UploadsDir, "storage.uploads", result)
	checkWritable(v.Config.PublicDir, "storage.public", result)
	v.checkSettings(result)
	result.Merge(v.checkMirror(ctx))
	return result
}

func (v *Validator) checkProject(r *model.ValidationResult) {
	cfg := v.Config
	if !isDir(cfg.ProjectDir) {
		r.Add(model.ValidationFinding{
			Check:    "project.dir.missing",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("project directory %s does not exist", cfg.ProjectDir),
			Field:    "APKFORGE_PROJECT_DIR",
		})
	}
	if !isDir(cfg.DeployDir) {
		r.Add(model.ValidationFinding{
			Check:    "deploy.dir.missing",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("deploy directory %s does not exist", cfg.DeployDir),
			Field:    "APKFORGE_DEPLOY_DIR",
		})
		return
	}

	script := cfg.BuildScript
	if !filepath.IsAbs(script) {
		script = filepath.Join(cfg.DeployDir, script)
	}
	info, err := os.Stat(script)
	if err != nil || !info.Mode().IsRegular() {
		r.Add(model.ValidationFinding{
			Check:    "build.script.missing",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("build script %s not found", script),
			Field:    "APKFORGE_BUILD_SCRIPT",
		})
	}
}

func (v *Validator) checkTools(r *model.ValidationResult) {
	lookPath := v.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("bash"); err != nil {
		r.Add(model.ValidationFinding{
			Check:    "tools.bash.missing",
			Severity: model.SeverityError,
			Message:  "bash is not on PATH",
		})
	}
	if _, err := lookPath("java"); err != nil {
		r.Add(model.ValidationFinding{
			Check:    "tools.java.missing",
			Severity: model.SeverityWarning,
			Message:  "java is not on PATH; Gradle builds will likely fail",
		})
	}
}

func checkWritable(dir, check string, r *model.ValidationResult) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Add(model.ValidationFinding{
			Check:    check + ".unwritable",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("cannot create %s: %v", dir, err),
		})
		return
	}
	f, err := os.CreateTemp(dir, ".writecheck-*")
	if err != nil {
		r.Add(model.ValidationFinding{
			Check:    check + ".unwritable",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("cannot write to %s: %v", dir, err),
		})
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func (v *Validator) checkSettings(r *model.ValidationResult) {
	cfg := v.Config
	if _, err := filepath.Match(cfg.ArtifactPattern, ""); err != nil {
		r.Add(model.ValidationFinding{
			Check:    "artifact.pattern.invalid",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("artifact pattern %q: %v", cfg.ArtifactPattern, err),
			Field:    "APKFORGE_ARTIFACT_PATTERN",
		})
	}
	if cfg.BuildTimeout > 0 && cfg.BuildTimeout < time.Minute {
		r.Add(model.ValidationFinding{
			Check:    "build.timeout.short",
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("build timeout %s is shorter than a typical Gradle build", cfg.BuildTimeout),
			Field:    "APKFORGE_BUILD_TIMEOUT",
		})
	}
	if cfg.CleanupDelay < time.Minute {
		r.Add(model.ValidationFinding{
			Check:    "cleanup.delay.short",
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("artifacts expire %s after a build; users may miss the download", cfg.CleanupDelay),
			Field:    "APKFORGE_CLEANUP_DELAY",
		})
	}
}

// checkMirror reports on the optional S3 mirror separately so callers can
// reuse it without repeating the local checks.
func (v *Validator) checkMirror(ctx context.Context) *model.ValidationResult {
	r := &model.ValidationResult{Subject: "mirror"}
	if v.Mirror == nil {
		r.Add(model.ValidationFinding{
			Check:    "mirror.disabled",
			Severity: model.SeverityInfo,
			Message:  "S3 mirror not configured; artifacts are served from local disk only",
		})
		return r
	}
	if err := v.Mirror.Healthy(ctx); err != nil {
		r.Add(model.ValidationFinding{
			Check:    "mirror.unreachable",
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("S3 mirror unreachable: %v", err),
			Field:    "APKFORGE_S3_ENDPOINT",
		})
	}
	return r
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     string `env:"APKFORGE_PORT" envDefault:"3001"`
	BindAddr string `env:"APKFORGE_BIND_ADDR" envDefault:"0.0.0.0"`
	UIDir    string `env:"APKFORGE_UI_DIR"` // built SPA, served with index.html fallback

	UploadsDir string `env:"APKFORGE_UPLOADS_DIR" envDefault:"./uploads"`
	PublicDir  string `env:"APKFORGE_PUBLIC_DIR" envDefault:"./public"`

	ProjectDir      string        `env:"APKFORGE_PROJECT_DIR" envDefault:"/workspace/android-webapp"`
	DeployDir       string        `env:"APKFORGE_DEPLOY_DIR"`   // defaults to <ProjectDir>/deploy
	ArtifactDir     string        `env:"APKFORGE_ARTIFACT_DIR"` // defaults to DeployDir
	BuildScript     string        `env:"APKFORGE_BUILD_SCRIPT" envDefault:"auto_build.sh"`
	ArtifactPattern string        `env:"APKFORGE_ARTIFACT_PATTERN" envDefault:"app-release*.apk"`
	BuildTimeout    time.Duration `env:"APKFORGE_BUILD_TIMEOUT" envDefault:"30m"`
	ProgressRules   string        `env:"APKFORGE_PROGRESS_RULES"` // YAML file, empty means built-in rules

	CleanupDelay    time.Duration `env:"APKFORGE_CLEANUP_DELAY" envDefault:"10m"`
	CleanupInterval time.Duration `env:"APKFORGE_CLEANUP_INTERVAL" envDefault:"5m"`
	UploadMaxAge    time.Duration `env:"APKFORGE_UPLOAD_MAX_AGE" envDefault:"30m"`
	BatchRetention  time.Duration `env:"APKFORGE_BATCH_RETENTION"` // 0 keeps batches for the process lifetime

	S3Endpoint  string `env:"APKFORGE_S3_ENDPOINT"`
	S3AccessKey string `env:"APKFORGE_S3_ACCESS_KEY"`
	S3SecretKey string `env:"APKFORGE_S3_SECRET_KEY"`
	S3Region    string `env:"APKFORGE_S3_REGION" envDefault:"auto"`
	S3Bucket    string `env:"APKFORGE_S3_BUCKET" envDefault:"apkforge-artifacts"`
	S3UseSSL    bool   `env:"APKFORGE_S3_USE_SSL" envDefault:"true"`

	AllowedOrigins string `env:"APKFORGE_ALLOWED_ORIGINS"`
}

const (
	minCleanupInterval = time.Minute
	maxCleanupInterval = 10 * time.Minute
)

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DeployDir == "" {
		c.DeployDir = filepath.Join(c.ProjectDir, "deploy")
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = c.DeployDir
	}
	if c.CleanupInterval < minCleanupInterval {
		c.CleanupInterval = minCleanupInterval
	}
	if c.CleanupInterval > maxCleanupInterval {
		c.CleanupInterval = maxCleanupInterval
	}
}

// Origins returns the CORS allow-list: localhost dev servers plus configured extras.
func (c *Config) Origins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

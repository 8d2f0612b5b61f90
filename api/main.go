package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"apkforge/api/cleanup"
	"apkforge/api/config"
	"apkforge/api/handler"
	"apkforge/api/hub"
	"apkforge/api/icon"
	"apkforge/api/metrics"
	"apkforge/api/pipeline"
	"apkforge/api/progress"
	"apkforge/api/runtime"
	"apkforge/api/storage"
	"apkforge/api/validate"
)

var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rules, err := progress.Load(cfg.ProgressRules)
	if err != nil {
		log.Fatalf("progress rules: %v", err)
	}

	for _, dir := range []string{cfg.UploadsDir, cfg.PublicDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create %s: %v", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var s3Client *storage.Client
	if cfg.S3Endpoint != "" {
		s3Client, err = storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err == nil {
			err = s3Client.EnsureBucket(ctx)
		}
		if err != nil {
			log.Printf("WARNING: S3 mirror unavailable (%v)", err)
			s3Client = nil
		} else {
			log.Println("S3 mirror connected at " + cfg.S3Endpoint)
		}
	}

	preflight := &validate.Validator{Config: cfg}
	if s3Client != nil {
		preflight.Mirror = s3Client
	}
	for _, f := range preflight.Validate(ctx).Findings {
		log.Printf("preflight: [%s] %s: %s", f.Severity, f.Check, f.Message)
	}

	ws := hub.New(cfg.Origins())

	scheduler := cleanup.New(cleanup.Options{
		DefaultDelay: cfg.CleanupDelay,
		Interval:     cfg.CleanupInterval,
	})
	scheduler.Sweep(cfg.UploadsDir, cfg.UploadMaxAge)

	builder := pipeline.NewBuilder(pipeline.Config{
		DeployDir:       cfg.DeployDir,
		ArtifactDir:     cfg.ArtifactDir,
		PublicDir:       cfg.PublicDir,
		Script:          cfg.BuildScript,
		ArtifactPattern: cfg.ArtifactPattern,
		Timeout:         cfg.BuildTimeout,
		CleanupDelay:    cfg.CleanupDelay,
	}, runtime.NewScriptRunner())
	builder.Icons = &icon.Processor{}
	builder.Cleanup = scheduler
	builder.WS = ws
	builder.Rules = rules
	if s3Client != nil {
		builder.Mirror = s3Client
	}

	batcher := pipeline.NewBatcher(ctx, builder, builder.Icons, cfg.BuildTimeout, cfg.CleanupDelay)
	batcher.Cleanup = scheduler
	batcher.WS = ws

	scheduler.OnDelete(func(p string) {
		metrics.FileCleaned()
		if s3Client != nil && filepath.Dir(p) == filepath.Clean(cfg.PublicDir) {
			if err := s3Client.Remove(context.Background(), p); err != nil {
				log.Printf("s3: %v", err)
			}
		}
	})
	if cfg.BatchRetention > 0 {
		scheduler.OnTick(func() { batcher.Evict(cfg.BatchRetention) })
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("cleanup: %v", err)
	}

	h := handler.New(cfg, builder, batcher, scheduler, ws, s3Client)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: newRouter(cfg, h, ws),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ws.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("apkforge %s listening on %s:%s", Version, cfg.BindAddr, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func newRouter(cfg *config.Config, h *handler.Handler, ws *hub.Hub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		h.Routes(r)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"version": Version})
		})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", ws.HandleConnect)

	// Serve UI static files in production
	if cfg.UIDir != "" {
		fileServer(r, cfg.UIDir)
	}
	return r
}

// fileServer serves a single-page app, falling back to index.html for
// client-side routes.
func fileServer(r chi.Router, dir string) {
	fs := http.FileServer(http.Dir(dir))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		p := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}

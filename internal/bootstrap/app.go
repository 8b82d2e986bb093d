package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docverify/internal/documents"
	"docverify/internal/drafts"
	"docverify/internal/ocr"
	"docverify/internal/ocr/compare"
	"docverify/internal/ocr/preprocess"
	"docverify/internal/pipeline"
	"docverify/internal/proposals"
	"docverify/internal/queue"
	"docverify/internal/services/health"
	"docverify/internal/shared/auth"
	"docverify/internal/shared/config"
	"docverify/internal/shared/ratelimit"
	"docverify/internal/shared/server"
	"docverify/internal/shared/storage/db"
	"docverify/internal/shared/storage/object"
	gcsstore "docverify/internal/shared/storage/object/gcs"
	localstore "docverify/internal/shared/storage/object/local"
	s3store "docverify/internal/shared/storage/object/s3"
	"docverify/internal/shared/telemetry"
	"docverify/internal/shared/util"
	"docverify/internal/textdetect"
	"docverify/internal/textdetect/vision"
)

const textDetectionLimiterPrefix = "docverify:ratelimit:"

// App holds shared dependencies for every binary.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Store      object.ObjectStore
	Queue      queue.Client
	Limiter    ratelimit.Limiter
	Documents  documents.Repo
	Proposals  proposals.Repo
	Drafts     drafts.Repo
	Results    ocr.Repo
	TextDetect textdetect.Client
	Pipeline   *pipeline.Service
	Health     *health.Service
	OCRHandler *ocr.Handler

	closers []io.Closer
}

// Build prepares shared dependencies and the admin router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := context.Background()
	app := &App{Config: cfg}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	if app.Store, err = buildStore(ctx, app, cfg); err != nil {
		return nil, err
	}
	if app.Queue, err = buildQueue(ctx, cfg); err != nil {
		return nil, err
	}
	if app.Limiter, err = buildLimiter(cfg); err != nil {
		return nil, err
	}
	if app.TextDetect, err = buildTextDetect(ctx, cfg, app.Limiter); err != nil {
		return nil, err
	}
	buildRepos(app)

	hashCPF := util.CPFHasher(cfg.CPFHashSecret)
	app.Pipeline = pipeline.NewService(pipeline.Deps{
		Documents:  app.Documents,
		Proposals:  app.Proposals,
		Drafts:     app.Drafts,
		Results:    app.Results,
		Store:      app.Store,
		TextDetect: app.TextDetect,
		HashCPF:    hashCPF,
	}, pipeline.Config{
		Legibility: preprocess.Thresholds{
			MinWidth:  cfg.OCR.MinWidth,
			MinHeight: cfg.OCR.MinHeight,
			MinBytes:  cfg.OCR.MinBytes,
		},
		MaxDimension:  cfg.OCR.MaxDimension,
		MaxPixels:     cfg.OCR.MaxPixels,
		MinTextLength: cfg.OCR.MinTextLength,
		NameThreshold: nameThreshold(cfg.OCR),
	})

	var pinger health.Pinger
	if app.DB != nil {
		pinger = app.DB
	}
	app.Health = health.NewService(pinger, app.TextDetect.Enabled)
	app.OCRHandler = ocr.NewHandler(app.Results, app.Documents, app.Queue)

	verifier, err := buildVerifier(cfg)
	if err != nil {
		return nil, err
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:     cfg,
		Health:     app.Health,
		OCRHandler: app.OCRHandler,
		Verifier:   verifier,
		Limiter:    app.Limiter,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":            cfg.Env,
		"database":       app.DB != nil,
		"object_store":   cfg.ObjectStoreType,
		"queue":          app.Queue != nil,
		"text_detection": app.TextDetect.Enabled(),
	})
	return app, nil
}

// Close releases clients opened by Build.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.db.memory", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	appName := "docverify-" + filepath.Base(os.Args[0])
	if db.IsLambdaRuntime() {
		sqlDB, err = db.Shared(ctx, cfg.DatabaseURL, db.LambdaOptions(appName).WithEnv())
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.ServerOptions(appName, cfg.Worker.Concurrency).WithEnv())
	}
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.db.memory", map[string]any{"reason": "connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, app *App, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
			Endpoint: cfg.S3Endpoint,
		})
	case "gcs":
		store, err := gcsstore.New(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store)
		return store, nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.QueueURL == "" {
		if config.IsDevLike(cfg.Env) {
			return &queue.MemoryClient{}, nil
		}
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

// buildLimiter prefers Redis so every worker replica shares one budget.
func buildLimiter(cfg config.Config) (ratelimit.Limiter, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return ratelimit.NewTokenBucket(nil), nil
	}
	return ratelimit.NewRedis(cfg.RedisURL, textDetectionLimiterPrefix)
}

// buildTextDetect wraps Vision in the PDF text layer, retry and rate limit.
func buildTextDetect(ctx context.Context, cfg config.Config, limiter ratelimit.Limiter) (textdetect.Client, error) {
	if !cfg.Vision.Enabled {
		return textdetect.Disabled{}, nil
	}
	vc, err := vision.New(ctx, vision.Options{
		Endpoint:        cfg.Vision.Endpoint,
		APIKey:          cfg.Vision.APIKey,
		CredentialsFile: cfg.Vision.CredentialsFile,
		Timeout:         cfg.Vision.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build vision client: %w", err)
	}
	pdfMinChars := 0
	if cfg.OCR.PDFTextLayer {
		pdfMinChars = max(cfg.OCR.MinTextLength, 1)
	}
	return textdetect.Chain(vc, limiter, ratelimit.Rule{
		Limit:  cfg.OCR.RateLimitMax,
		Window: cfg.OCR.RateLimitWindow,
	}, pdfMinChars), nil
}

func buildRepos(app *App) {
	if app.DB != nil {
		app.Documents = &documents.PGRepo{DB: app.DB}
		app.Proposals = &proposals.PGRepo{DB: app.DB}
		app.Drafts = &drafts.PGRepo{DB: app.DB}
		app.Results = &ocr.PGRepo{DB: app.DB}
		return
	}
	app.Documents = documents.NewMemoryRepo()
	app.Proposals = proposals.NewMemoryRepo()
	app.Drafts = drafts.NewMemoryRepo()
	app.Results = ocr.NewMemoryRepo()
}

func buildVerifier(cfg config.Config) (*auth.Signer, error) {
	if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.admin_auth.disabled", map[string]any{"env": cfg.Env})
			return nil, nil
		}
		return nil, auth.ErrMissingSecret
	}
	return auth.NewSigner(cfg.AdminJWTSecret)
}

// nameThreshold prefers the raw env value, which may be a percentage.
func nameThreshold(c config.OCRConfig) float64 {
	if strings.TrimSpace(c.NameThresholdRaw) != "" {
		return compare.ParseThreshold(c.NameThresholdRaw)
	}
	return c.NameThreshold
}

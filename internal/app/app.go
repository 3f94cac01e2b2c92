// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Corphon/AutoAnnotator/internal/api"
	"github.com/Corphon/AutoAnnotator/internal/config"
	"github.com/Corphon/AutoAnnotator/internal/resolver"
	"github.com/Corphon/AutoAnnotator/internal/services"
	"github.com/Corphon/AutoAnnotator/internal/storage"
	"github.com/Corphon/AutoAnnotator/internal/utils"
	"github.com/gin-gonic/gin"
)

const logFileName = "server.log"

// App holds every long-lived component of the server, built in dependency
// order from a Config
type App struct {
	Config  *config.Config
	Logger  *utils.Logger
	Metrics *utils.MetricsCollector

	DataFiles      *storage.FileStorage
	ValidatedFiles *storage.FileStorage
	Validated      *storage.ValidatedStore
	Audit          *storage.AuditLog
	Sink           storage.BackupSink

	Sources     *services.SourceService
	Annotations *services.AnnotationService
	Hub         *api.EventHub
	Router      *gin.Engine
}

// ------------------------------------
// New wires the application. Log entries go to logOut and to
// LOG_DIR/server.log.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  utils.NewLogger(logOut, utils.ParseLogLevel(cfg.LogLevel)),
		Metrics: utils.NewMetricsCollector(),
	}

	if err := a.Logger.OpenFile(filepath.Join(cfg.LogDir, logFileName)); err != nil {
		return nil, err
	}

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Sources = services.NewSourceService(a.DataFiles, cfg.DataFile, a.Logger)
	a.Annotations = services.NewAnnotationService(services.AnnotationServiceOptions{
		Files:     a.DataFiles,
		Sources:   a.Sources,
		Resolver:  resolver.NewWindowResolver(),
		Validated: a.Validated,
		Audit:     a.Audit,
		Workers:   cfg.ResolveWorkers,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})

	a.Hub = api.NewEventHub(a.Logger, a.Metrics)
	a.Router = api.SetupRouter(api.RouterDeps{
		Annotations:   a.Annotations,
		Sources:       a.Sources,
		Hub:           a.Hub,
		Logger:        a.Logger,
		Metrics:       a.Metrics,
		StaticDir:     cfg.StaticDir,
		RecentBackups: cfg.RecentBackups,
		SaveRateLimit: cfg.SaveRateLimit,
	})

	a.Logger.Info("application initialized", map[string]interface{}{
		"data_dir":       cfg.DataDir,
		"source":         a.Sources.Current(),
		"validated_dir":  cfg.ValidatedDir,
		"backup_storage": cfg.BackupStorage,
		"audit":          a.Audit != nil,
	})
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config

	var err error
	if a.DataFiles, err = storage.NewFileStorage(cfg.DataDir); err != nil {
		return fmt.Errorf("failed to open data dir: %w", err)
	}
	if a.ValidatedFiles, err = storage.NewFileStorage(cfg.ValidatedDir); err != nil {
		return fmt.Errorf("failed to open validated dir: %w", err)
	}

	a.Sink, err = storage.NewBackupSink(ctx, storage.SinkConfig{
		Type:         storage.SinkType(cfg.BackupStorage),
		LocalPath:    cfg.BackupMirrorPath,
		S3Bucket:     cfg.S3Bucket,
		S3Region:     cfg.S3Region,
		S3Prefix:     cfg.S3Prefix,
		AWSAccessKey: cfg.AWSAccessKey,
		AWSSecretKey: cfg.AWSSecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create backup sink: %w", err)
	}

	if cfg.AuditDB != "" {
		if a.Audit, err = storage.OpenAuditLog(cfg.AuditDB); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	a.Validated = storage.NewValidatedStore(a.ValidatedFiles, storage.ValidatedStoreOptions{
		MinInterval: cfg.BackupMinInterval,
		Keep:        cfg.BackupKeep,
		Sink:        a.Sink,
		Logger:      a.Logger,
	})
	return nil
}

// Close stops the event hub and releases the audit database and log file.
// It is safe on a partially built App.
func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Close()
	}

	var firstErr error
	if a.Audit != nil {
		if err := a.Audit.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

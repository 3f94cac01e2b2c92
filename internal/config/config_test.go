package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATA_DIR", "DATA_FILE", "VALIDATED_DIR", "STATIC_DIR", "LOG_DIR",
		"LOG_LEVEL", "DEBUG_MODE", "BACKUP_MIN_INTERVAL", "BACKUP_KEEP",
		"RECENT_BACKUPS", "RESOLVE_WORKERS", "BACKUP_STORAGE", "BACKUP_MIRROR_PATH",
		"AWS_S3_BUCKET", "AWS_REGION", "BACKUP_S3_PREFIX", "SAVE_RATE_LIMIT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIT_DB", filepath.Join("data", "validated", "audit.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DataDir != "data" || cfg.DataFile != "annotations.jsonl" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ValidatedDir != filepath.Join("data", "validated") {
		t.Errorf("ValidatedDir = %s", cfg.ValidatedDir)
	}
	if cfg.BackupMinInterval != 5*time.Minute || cfg.BackupKeep != 20 || cfg.RecentBackups != 5 {
		t.Errorf("backup defaults: %+v", cfg)
	}
	if cfg.ResolveWorkers != 4 || cfg.BackupStorage != BackupStorageNone {
		t.Errorf("workers=%d storage=%s", cfg.ResolveWorkers, cfg.BackupStorage)
	}
	if cfg.SaveRateLimit != 60 {
		t.Errorf("SaveRateLimit = %d", cfg.SaveRateLimit)
	}
	if !cfg.DebugMode {
		t.Error("debug mode defaults to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/annotations")
	t.Setenv("BACKUP_MIN_INTERVAL", "90s")
	t.Setenv("RESOLVE_WORKERS", "8")
	t.Setenv("DEBUG_MODE", "no")
	t.Setenv("AUDIT_DB", "")
	t.Setenv("BACKUP_STORAGE", "S3")
	t.Setenv("AWS_S3_BUCKET", "review-backups")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ValidatedDir != filepath.Join("/srv/annotations", "validated") {
		t.Errorf("ValidatedDir should derive from DATA_DIR, got %s", cfg.ValidatedDir)
	}
	if cfg.BackupMinInterval != 90*time.Second || cfg.ResolveWorkers != 8 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.DebugMode {
		t.Error("DEBUG_MODE=no should disable debug mode")
	}
	if cfg.AuditDB != "" {
		t.Errorf("an explicitly empty AUDIT_DB disables the audit log, got %q", cfg.AuditDB)
	}
	if cfg.BackupStorage != BackupStorageS3 {
		t.Errorf("BackupStorage = %s", cfg.BackupStorage)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, wantErr string
	}{
		{"RESOLVE_WORKERS", "0", "RESOLVE_WORKERS"},
		{"RESOLVE_WORKERS", "many", "invalid RESOLVE_WORKERS"},
		{"BACKUP_KEEP", "-1", "BACKUP_KEEP"},
		{"SAVE_RATE_LIMIT", "0", "SAVE_RATE_LIMIT"},
		{"BACKUP_MIN_INTERVAL", "soon", "invalid BACKUP_MIN_INTERVAL"},
		{"BACKUP_STORAGE", "s3", "AWS_S3_BUCKET"},
		{"BACKUP_STORAGE", "local", "BACKUP_MIRROR_PATH"},
		{"BACKUP_STORAGE", "ftp", "unknown BACKUP_STORAGE"},
		{"DATA_FILE", "../escape.jsonl", "DATA_FILE"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

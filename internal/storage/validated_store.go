// internal/storage/validated_store.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/AutoAnnotator/internal/errors"
	"github.com/Corphon/AutoAnnotator/internal/models"
	"github.com/Corphon/AutoAnnotator/internal/utils"
)

const (
	ValidatedFile = "annotations_validated.jsonl"
	BackupDir     = "backups"

	backupPrefix     = "annotations_validated_"
	backupTimeLayout = "20060102_150405"

	defaultRecentBackups = 5
)

// ValidatedStoreOptions configures backups for a ValidatedStore
type ValidatedStoreOptions struct {
	// MinInterval is the minimum time between two automatic backups
	MinInterval time.Duration
	// Keep is the number of backups retained; 0 keeps all
	Keep int
	// Sink optionally mirrors every new backup
	Sink   BackupSink
	Logger *utils.Logger
}

// SaveOptions controls a single Save call
type SaveOptions struct {
	ForceBackup bool
}

// SaveResult reports what a Save did
type SaveResult struct {
	SavedCount     int    `json:"saved_count"`
	ValidatedAt    string `json:"validated_at"`
	TotalValidated int    `json:"total_validated"`
	Backup         string `json:"backup,omitempty"`
	Mirror         string `json:"mirror,omitempty"`
	BackupWarning  string `json:"backup_warning,omitempty"`
}

// ValidatedStore appends reviewed annotations to the validated file and
// keeps timestamped backups of it
type ValidatedStore struct {
	files       *FileStorage
	sink        BackupSink
	logger      *utils.Logger
	minInterval time.Duration
	keep        int
	now         func() time.Time

	mu         sync.Mutex
	lastBackup time.Time
}

// NewValidatedStore creates a store writing under files.BaseDir
func NewValidatedStore(files *FileStorage, opts ValidatedStoreOptions) *ValidatedStore {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ValidatedStore{
		files:       files,
		sink:        opts.Sink,
		logger:      logger,
		minInterval: opts.MinInterval,
		keep:        opts.Keep,
		now:         time.Now,
	}
}

// Save stamps each annotation with validated_at and appends it as one
// JSON line, after backing up the existing file when due
func (s *ValidatedStore) Save(ctx context.Context, anns []models.Annotation, opts SaveOptions) (*SaveResult, error) {
	if len(anns) == 0 {
		return nil, apperrors.NewValidationError("no annotations to save", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	validatedAt := now.Format(time.RFC3339Nano)

	lines := make([][]byte, 0, len(anns))
	for i := range anns {
		ann := anns[i]
		ann.ValidatedAt = validatedAt
		line, err := json.Marshal(ann)
		if err != nil {
			return nil, apperrors.NewProcessingError(fmt.Sprintf("failed to encode annotation %s", ann.ID), err)
		}
		lines = append(lines, line)
	}

	result := &SaveResult{ValidatedAt: validatedAt}
	var warnings []string

	if s.backupDue(now, opts.ForceBackup) {
		name, err := s.createBackup(now)
		if err != nil {
			s.logger.Warn("backup failed", map[string]interface{}{"error": err.Error()})
			warnings = append(warnings, fmt.Sprintf("backup failed: %v", err))
		} else {
			s.lastBackup = now
			result.Backup = name
			s.logger.Info("backup created", map[string]interface{}{"backup": name})

			if s.sink != nil {
				location, err := s.mirror(ctx, name)
				if err != nil {
					s.logger.Warn("backup mirror failed", map[string]interface{}{
						"sink":  s.sink.Name(),
						"error": err.Error(),
					})
					warnings = append(warnings, fmt.Sprintf("backup mirror failed: %v", err))
				} else {
					result.Mirror = location
				}
			}

			if err := s.pruneBackups(); err != nil {
				s.logger.Warn("backup retention failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if err := s.files.AppendLines("", ValidatedFile, lines); err != nil {
		return nil, apperrors.NewProcessingError("failed to save validated annotations", err)
	}

	result.SavedCount = len(lines)
	result.TotalValidated = s.ValidatedCount()
	result.BackupWarning = strings.Join(warnings, "; ")
	return result, nil
}

// backupDue reports whether a backup should precede this save; caller holds mu
func (s *ValidatedStore) backupDue(now time.Time, force bool) bool {
	if !s.files.FileExists("", ValidatedFile) {
		return false
	}
	if force || now.Sub(s.lastBackup) >= s.minInterval {
		return true
	}
	s.logger.Debug("backup skipped", map[string]interface{}{
		"last_backup": s.lastBackup.Format(time.RFC3339),
		"interval":    s.minInterval.String(),
	})
	return false
}

func (s *ValidatedStore) createBackup(now time.Time) (string, error) {
	stamp := now.Format(backupTimeLayout)
	names, err := s.backupNames()
	if err != nil {
		return "", err
	}

	// Same-second backups get the next suffix after the highest existing one,
	// so a pruned name is never reused.
	name := backupPrefix + stamp + ".jsonl"
	next, taken := 0, false
	for _, existing := range names {
		if ts, n := backupKey(existing); ts == stamp {
			taken = true
			next = max(next, n+1)
		}
	}
	if taken {
		name = fmt.Sprintf("%s%s_%d.jsonl", backupPrefix, stamp, next)
	}

	if err := s.files.CopyFile("", ValidatedFile, BackupDir, name); err != nil {
		return "", err
	}
	return name, nil
}

func (s *ValidatedStore) mirror(ctx context.Context, name string) (string, error) {
	content, err := s.files.LoadTextFile(BackupDir, name)
	if err != nil {
		return "", err
	}
	return s.sink.Put(ctx, name, bytes.NewReader(content))
}

func (s *ValidatedStore) pruneBackups() error {
	if s.keep <= 0 {
		return nil
	}
	names, err := s.backupNames()
	if err != nil {
		return err
	}
	for i := s.keep; i < len(names); i++ {
		if err := s.files.DeleteFile(BackupDir, names[i]); err != nil {
			return err
		}
		s.logger.Debug("backup pruned", map[string]interface{}{"backup": names[i]})
	}
	return nil
}

// backupNames returns backup file names, newest first
func (s *ValidatedStore) backupNames() ([]string, error) {
	files, err := s.files.ListFiles(BackupDir, ".jsonl")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Name, backupPrefix) {
			names = append(names, f.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ti, ni := backupKey(names[i])
		tj, nj := backupKey(names[j])
		if ti != tj {
			return ti > tj
		}
		return ni > nj
	})
	return names, nil
}

// backupKey splits a backup name into its timestamp and collision suffix,
// so that _10 orders after _9 within the same second
func backupKey(name string) (string, int) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".jsonl")
	if len(stamp) <= len(backupTimeLayout) {
		return stamp, 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(stamp[len(backupTimeLayout):], "_"))
	if err != nil {
		return stamp, 0
	}
	return stamp[:len(backupTimeLayout)], n
}

// ValidatedCount returns the number of non-blank lines in the validated
// file, or 0 when it is missing or unreadable
func (s *ValidatedStore) ValidatedCount() int {
	content, err := s.files.LoadTextFile("", ValidatedFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read validated file", map[string]interface{}{"error": err.Error()})
		}
		return 0
	}

	count := 0
	for _, line := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			count++
		}
	}
	return count
}

// RecentBackups returns up to limit backup names, newest first
func (s *ValidatedStore) RecentBackups(limit int) []string {
	if limit <= 0 {
		limit = defaultRecentBackups
	}
	names, err := s.backupNames()
	if err != nil {
		s.logger.Warn("failed to list backups", map[string]interface{}{"error": err.Error()})
		return []string{}
	}
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}

// LastBackup returns the time of the last backup made by this store
func (s *ValidatedStore) LastBackup() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBackup
}

// internal/services/source_service.go
package services

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/AutoAnnotator/internal/errors"
	"github.com/Corphon/AutoAnnotator/internal/storage"
	"github.com/Corphon/AutoAnnotator/internal/utils"
)

const (
	sourceExt       = ".jsonl"
	sourceStateFile = "state.json"
)

// CodeFileNotFound is returned when a requested data file does not exist
const CodeFileNotFound = "FILE_NOT_FOUND"

// SourceFile is a selectable annotation data file
type SourceFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Current  bool      `json:"current"`
}

// sourceState is persisted in <DATA_DIR>/state.json
type sourceState struct {
	CurrentFile string    `json:"current_file"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SourceService tracks which jsonl file in the data directory is loaded
type SourceService struct {
	files  *storage.FileStorage
	logger *utils.Logger

	mu      sync.RWMutex
	current string
}

// ------------------------------------
// NewSourceService restores the selection saved in state.json, falling back
// to defaultFile when there is none or it no longer exists
func NewSourceService(files *storage.FileStorage, defaultFile string, logger *utils.Logger) *SourceService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &SourceService{
		files:   files,
		logger:  logger,
		current: defaultFile,
	}

	var state sourceState
	if !files.FileExists("", sourceStateFile) {
		return s
	}
	if err := files.LoadJSONFile("", sourceStateFile, &state); err != nil {
		logger.Warn("ignoring unreadable source state", map[string]interface{}{"error": err.Error()})
		return s
	}
	if validSourceName(state.CurrentFile) != nil || !files.FileExists("", state.CurrentFile) {
		logger.Warn("ignoring stale source state", map[string]interface{}{"file": state.CurrentFile})
		return s
	}

	s.current = state.CurrentFile
	logger.Info("restored data source", map[string]interface{}{"file": s.current})
	return s
}

// Current returns the selected file name
func (s *SourceService) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// List returns every jsonl file in the data directory, sorted by name
func (s *SourceService) List() ([]SourceFile, error) {
	infos, err := s.files.ListFiles("", sourceExt)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to list data files", err)
	}

	current := s.Current()
	files := make([]SourceFile, 0, len(infos))
	for _, info := range infos {
		files = append(files, SourceFile{
			Name:     info.Name,
			Size:     info.Size,
			Modified: info.Modified,
			Current:  info.Name == current,
		})
	}
	return files, nil
}

// Switch selects name as the data source and persists the choice
func (s *SourceService) Switch(name string) error {
	if err := validSourceName(name); err != nil {
		return err
	}
	if !s.files.FileExists("", name) {
		return apperrors.NewNotFoundError("data file not found: "+name, nil).WithCode(CodeFileNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := sourceState{CurrentFile: name, UpdatedAt: time.Now()}
	if err := s.files.SaveJSONFile("", sourceStateFile, state); err != nil {
		return apperrors.NewProcessingError("failed to persist data source", err)
	}

	previous := s.current
	s.current = name
	s.logger.Info("data source switched", map[string]interface{}{
		"from": previous,
		"to":   name,
	})
	return nil
}

// validSourceName accepts a bare file name with the jsonl extension
func validSourceName(name string) error {
	switch {
	case name == "":
		return apperrors.NewValidationError("filename is required", nil)
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return apperrors.NewValidationError("filename must not contain a path", nil)
	case !strings.HasSuffix(name, sourceExt) || name == sourceExt:
		return apperrors.NewValidationError("filename must end in "+sourceExt, nil)
	}
	return nil
}

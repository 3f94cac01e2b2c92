// internal/services/annotation_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/AutoAnnotator/internal/errors"
	"github.com/Corphon/AutoAnnotator/internal/models"
	"github.com/Corphon/AutoAnnotator/internal/resolver"
	"github.com/Corphon/AutoAnnotator/internal/storage"
	"github.com/Corphon/AutoAnnotator/internal/utils"
)

// Error codes surfaced by the load and save paths
const (
	CodeLoadFailed         = "LOAD_FAILED"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeNoValidAnnotations = "NO_VALID_ANNOTATIONS"
	CodeAuditDisabled      = "AUDIT_DISABLED"
)

const (
	defaultResolveWorkers    = 4
	maxRejectedReasonsLogged = 20
)

// LoadWarning describes a skipped input line
type LoadWarning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// LoadResult is the loaded and resolved content of the current source
type LoadResult struct {
	Source      string              `json:"source"`
	Annotations []models.Annotation `json:"annotations"`
	Warnings    []LoadWarning       `json:"warnings"`
}

// Stats summarizes a set of annotations
type Stats struct {
	TotalDocuments  int     `json:"total_documents"`
	TotalCues       int     `json:"total_cues"`
	TotalScopes     int     `json:"total_scopes"`
	AvgCuesPerDoc   float64 `json:"avg_cues_per_doc"`
	AvgScopesPerDoc float64 `json:"avg_scopes_per_doc"`
}

// Rejection is a record dropped from a save request
type Rejection struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SaveOutcome is the result of a save request
type SaveOutcome struct {
	*storage.SaveResult
	Rejected []Rejection `json:"rejected"`
}

// AnnotationServiceOptions holds the collaborators of an AnnotationService
type AnnotationServiceOptions struct {
	Files     *storage.FileStorage
	Sources   *SourceService
	Resolver  resolver.Resolver
	Validated *storage.ValidatedStore
	// Audit is optional
	Audit   *storage.AuditLog
	Workers int
	Logger  *utils.Logger
	Metrics *utils.MetricsCollector
}

// AnnotationService loads annotation files, fills in missing scope
// positions and persists reviewed annotations
type AnnotationService struct {
	files     *storage.FileStorage
	sources   *SourceService
	resolver  resolver.Resolver
	validated *storage.ValidatedStore
	audit     *storage.AuditLog
	workers   int
	logger    *utils.Logger
	metrics   *utils.MetricsCollector
}

// ------------------------------------
// NewAnnotationService creates the service; a nil resolver selects the
// window resolver
func NewAnnotationService(opts AnnotationServiceOptions) *AnnotationService {
	s := &AnnotationService{
		files:     opts.Files,
		sources:   opts.Sources,
		resolver:  opts.Resolver,
		validated: opts.Validated,
		audit:     opts.Audit,
		workers:   opts.Workers,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if s.resolver == nil {
		s.resolver = resolver.NewWindowResolver()
	}
	if s.workers <= 0 {
		s.workers = defaultResolveWorkers
	}
	if s.logger == nil {
		s.logger = utils.NewNopLogger()
	}
	if s.metrics == nil {
		s.metrics = utils.NewMetricsCollector()
	}
	return s
}

// Load reads the current source file and resolves missing positions.
// A missing file yields an empty result.
func (s *AnnotationService) Load(ctx context.Context) (*LoadResult, error) {
	start := time.Now()
	source := s.sources.Current()

	result := &LoadResult{
		Source:      source,
		Annotations: []models.Annotation{},
		Warnings:    []LoadWarning{},
	}

	content, err := s.files.LoadTextFile("", source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("data file not found", map[string]interface{}{"file": source})
			return result, nil
		}
		return nil, apperrors.NewProcessingError("failed to read data file", err).WithCode(CodeLoadFailed)
	}

	result.Annotations, result.Warnings = s.ParseLines(content)
	if err := s.ResolveAll(ctx, result.Annotations); err != nil {
		return nil, err
	}

	s.metrics.RecordDuration("ingest.load_ms", time.Since(start))
	s.logger.Info("annotations loaded", map[string]interface{}{
		"file":     source,
		"count":    len(result.Annotations),
		"skipped":  len(result.Warnings),
		"duration": time.Since(start).String(),
	})
	return result, nil
}

// ParseLines decodes one annotation per non-blank line. Lines that fail
// to decode are skipped with a warning.
func (s *AnnotationService) ParseLines(content []byte) ([]models.Annotation, []LoadWarning) {
	anns := []models.Annotation{}
	warnings := []LoadWarning{}

	for i, line := range bytes.Split(content, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var ann models.Annotation
		if err := json.Unmarshal(line, &ann); err != nil {
			warnings = append(warnings, LoadWarning{Line: i + 1, Message: err.Error()})
			s.metrics.IncrementCounter("ingest.lines_skipped")
			s.logger.Warn("skipping malformed line", map[string]interface{}{
				"line":  i + 1,
				"error": err.Error(),
			})
			continue
		}
		anns = append(anns, ann)
	}
	return anns, warnings
}

// ResolveAll fills positions for every scope that lacks usable ones.
// Each worker writes only into its own annotation, so file order and the
// scope each span belongs to are preserved.
func (s *AnnotationService) ResolveAll(ctx context.Context, anns []models.Annotation) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range anns {
		ann := &anns[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.resolveAnnotation(ann)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return apperrors.NewProcessingError("position resolution aborted", err)
	}
	return nil
}

func (s *AnnotationService) resolveAnnotation(ann *models.Annotation) {
	for j := range ann.Scopes {
		scope := &ann.Scopes[j]
		if !scope.NeedsPositions() {
			continue
		}

		var spans []models.Span
		for _, m := range s.resolver.ResolveCandidates(ann.Text, scope.Scope) {
			if m.Skipped {
				continue
			}
			if m.Found() {
				spans = append(spans, m.Span)
				s.metrics.IncrementCounter("resolver." + string(m.Strategy))
			} else {
				s.metrics.IncrementCounter("resolver.miss")
			}
			if s.logger.DebugEnabled() {
				s.logger.Debug("scope candidate", map[string]interface{}{
					"annotation_id": ann.ID,
					"candidate":     m.Candidate,
					"strategy":      m.Strategy,
					"span":          fmt.Sprintf("[%d,%d]", m.Span.Start, m.Span.End),
				})
			}
		}

		if len(spans) > 0 {
			scope.SetComputedPositions(spans)
			s.metrics.IncrementCounter("ingest.scopes_resolved")
		}
	}
}

// Resolve exposes the resolver for single text/label pairs
func (s *AnnotationService) Resolve(text, label string) ([]models.Span, []resolver.Match) {
	matches := s.resolver.ResolveCandidates(text, label)
	spans := []models.Span{}
	for _, m := range matches {
		if m.Found() {
			spans = append(spans, m.Span)
		}
	}
	if matches == nil {
		matches = []resolver.Match{}
	}
	return spans, matches
}

// ValidateRaw checks that a record is an object with the required fields
func (s *AnnotationService) ValidateRaw(raw json.RawMessage) error {
	missing, err := models.MissingFields(raw)
	if err != nil {
		return apperrors.NewValidationError("annotation must be a JSON object", err)
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("missing required fields: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// ParseSaveBody accepts a single record or an array of records
func ParseSaveBody(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apperrors.NewValidationError("request body is empty", nil).WithCode(CodeInvalidJSON)
	}

	if body[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, apperrors.NewValidationError("invalid JSON", err).WithCode(CodeInvalidJSON)
		}
		return records, nil
	}

	if !json.Valid(body) {
		return nil, apperrors.NewValidationError("invalid JSON", nil).WithCode(CodeInvalidJSON)
	}
	return []json.RawMessage{json.RawMessage(body)}, nil
}

// FilterValid splits records into decodable valid annotations and rejections
func (s *AnnotationService) FilterValid(records []json.RawMessage) ([]models.Annotation, []Rejection) {
	valid := make([]models.Annotation, 0, len(records))
	rejected := []Rejection{}

	for i, raw := range records {
		err := s.ValidateRaw(raw)
		if err == nil {
			var ann models.Annotation
			if derr := json.Unmarshal(raw, &ann); derr != nil {
				err = derr
			} else {
				valid = append(valid, ann)
				continue
			}
		}

		r := Rejection{Index: i, ID: models.IDFromRaw(raw), Reason: err.Error()}
		rejected = append(rejected, r)
		if len(rejected) <= maxRejectedReasonsLogged {
			s.logger.Warn("rejecting annotation", map[string]interface{}{
				"index":  r.Index,
				"id":     r.ID,
				"reason": r.Reason,
			})
		}
	}
	return valid, rejected
}

// Save validates a request body and appends the valid records to the
// validated file. Nothing is written when no record is valid.
func (s *AnnotationService) Save(ctx context.Context, body []byte, opts storage.SaveOptions) (*SaveOutcome, error) {
	records, err := ParseSaveBody(body)
	if err != nil {
		return nil, err
	}

	valid, rejected := s.FilterValid(records)
	if len(valid) == 0 {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("no valid annotations (%d rejected)", len(rejected)), nil,
		).WithCode(CodeNoValidAnnotations)
	}

	res, err := s.validated.Save(ctx, valid, opts)
	if err != nil {
		return nil, err
	}
	s.metrics.AddCounter("save.annotations", int64(res.SavedCount))
	s.metrics.AddCounter("save.rejected", int64(len(rejected)))

	if s.audit != nil {
		source := s.sources.Current()
		entries := make([]storage.AuditEntry, 0, len(valid))
		for _, ann := range valid {
			entries = append(entries, storage.AuditEntry{
				AnnotationID: ann.ID,
				Source:       source,
				ValidatedAt:  res.ValidatedAt,
				Backup:       res.Backup,
			})
		}
		if err := s.audit.Record(ctx, entries); err != nil {
			s.logger.Error("failed to record audit entries", map[string]interface{}{"error": err.Error()})
		}
	}

	s.logger.Info("annotations saved", map[string]interface{}{
		"saved":    res.SavedCount,
		"rejected": len(rejected),
		"total":    res.TotalValidated,
		"backup":   res.Backup,
	})
	return &SaveOutcome{SaveResult: res, Rejected: rejected}, nil
}

// History returns recent audit entries
func (s *AnnotationService) History(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	if s.audit == nil {
		return nil, apperrors.NewDisabledError("audit log is disabled").WithCode(CodeAuditDisabled)
	}
	entries, err := s.audit.History(ctx, limit)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to read audit history", err)
	}
	return entries, nil
}

// Stats computes document, cue and scope counts
func (s *AnnotationService) Stats(anns []models.Annotation) Stats {
	st := Stats{TotalDocuments: len(anns)}
	for _, ann := range anns {
		st.TotalCues += ann.CueCount()
		st.TotalScopes += ann.ScopeCount()
	}
	if st.TotalDocuments > 0 {
		st.AvgCuesPerDoc = float64(st.TotalCues) / float64(st.TotalDocuments)
		st.AvgScopesPerDoc = float64(st.TotalScopes) / float64(st.TotalDocuments)
	}
	return st
}

// ValidatedCount returns the number of saved records
func (s *AnnotationService) ValidatedCount() int {
	return s.validated.ValidatedCount()
}

// RecentBackups returns recent backup names
func (s *AnnotationService) RecentBackups(limit int) []string {
	return s.validated.RecentBackups(limit)
}

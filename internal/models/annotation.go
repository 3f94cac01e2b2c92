// internal/models/annotation.go
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// RequiredFields lists the keys a record must carry to be accepted as validated.
var RequiredFields = []string{"id", "text", "cues"}

// Cue is a negation cue payload. Its structure belongs to the annotation
// producer and is passed through untouched.
type Cue = json.RawMessage

// Span is a half-open [Start, End) range of rune offsets into a document text.
// It is serialized as a two element JSON array.
type Span struct {
	Start int
	End   int
}

// MarshalJSON encodes the span as [start, end].
func (s Span) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Start, s.End})
}

// UnmarshalJSON accepts a pair of integral JSON numbers.
func (s *Span) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("span must be a pair of numbers: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("span must have exactly 2 elements, got %d", len(pair))
	}
	for _, v := range pair {
		if v != math.Trunc(v) {
			return fmt.Errorf("span offsets must be integers, got %v", v)
		}
	}
	s.Start, s.End = int(pair[0]), int(pair[1])
	return nil
}

// Scope is a negation scope label attached to an annotation.
type Scope struct {
	Scope     string `json:"scope"`
	Positions []Span `json:"positions,omitempty"`
	// Calculated is set when Positions were derived from Scope rather than
	// supplied by the producer.
	Calculated bool `json:"calculated,omitempty"`

	// Extra holds fields this service does not interpret.
	Extra map[string]json.RawMessage `json:"-"`

	// rawPositions keeps a positions value that was present but unusable
	// (null, wrong type, malformed pairs) so it survives a round trip when
	// no replacement could be computed.
	rawPositions json.RawMessage

	// opaque holds a scope element that is not a JSON object. It is written
	// back unchanged and never resolved.
	opaque json.RawMessage
}

// Opaque reports whether the scope element was not a JSON object.
func (s *Scope) Opaque() bool {
	return s.opaque != nil
}

// NeedsPositions reports whether the scope has no trusted positions.
func (s *Scope) NeedsPositions() bool {
	return s.opaque == nil && len(s.Positions) == 0
}

// SetComputedPositions stores resolver output on the scope.
func (s *Scope) SetComputedPositions(spans []Span) {
	if len(spans) == 0 || s.opaque != nil {
		return
	}
	s.Positions = spans
	s.Calculated = true
	s.rawPositions = nil
}

// UnmarshalJSON decodes a scope, keeping unknown fields and tolerating
// unusable positions. Elements that are not objects are kept verbatim.
func (s *Scope) UnmarshalJSON(data []byte) error {
	*s = Scope{}
	fields, err := splitObject(data)
	if errors.Is(err, errNotObject) {
		s.opaque = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("scope: %w", err)
	}

	if raw, ok := fields["scope"]; ok {
		if err := json.Unmarshal(raw, &s.Scope); err != nil {
			// non-string labels cannot be resolved; keep them as-is
			s.Scope = ""
		} else {
			delete(fields, "scope")
		}
	}

	if raw, ok := fields["positions"]; ok {
		delete(fields, "positions")
		var spans []Span
		if err := json.Unmarshal(raw, &spans); err == nil && len(spans) > 0 {
			s.Positions = spans
		} else {
			s.rawPositions = append(json.RawMessage(nil), raw...)
		}
	}

	if raw, ok := fields["calculated"]; ok {
		var calculated bool
		if err := json.Unmarshal(raw, &calculated); err == nil {
			s.Calculated = calculated
			delete(fields, "calculated")
		}
	}

	if len(fields) > 0 {
		s.Extra = fields
	}
	return nil
}

// MarshalJSON writes known fields first, then preserved extras.
func (s Scope) MarshalJSON() ([]byte, error) {
	if s.opaque != nil {
		return s.opaque, nil
	}
	ow := newObjectWriter()
	if _, shadowed := s.Extra["scope"]; !shadowed {
		ow.field("scope", s.Scope)
	}
	switch {
	case len(s.Positions) > 0:
		ow.field("positions", s.Positions)
	case s.rawPositions != nil:
		ow.raw("positions", s.rawPositions)
	}
	if s.Calculated {
		ow.field("calculated", true)
	}
	ow.extras(s.Extra)
	return ow.bytes()
}

// Annotation is one document with its negation cues and scopes.
type Annotation struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Cues        []Cue   `json:"cues"`
	Scopes      []Scope `json:"scopes"`
	ValidatedAt string  `json:"validated_at,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`

	numericID bool

	// Set by UnmarshalJSON when a required key was absent from the input,
	// so that it stays absent on output.
	idMissing   bool
	textMissing bool
	cuesMissing bool

	// Values of an unexpected JSON kind, written back verbatim.
	rawID     json.RawMessage
	rawText   json.RawMessage
	rawCues   json.RawMessage
	rawScopes json.RawMessage
}

// UnmarshalJSON decodes an annotation record. The id may be a string or a
// number; a numeric id is written back as a number. Fields of an unexpected
// kind are kept verbatim instead of failing the record.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	fields, err := splitObject(data)
	if err != nil {
		return fmt.Errorf("annotation: %w", err)
	}
	*a = Annotation{}

	if raw, ok := fields["id"]; ok {
		delete(fields, "id")
		if err := json.Unmarshal(raw, &a.ID); err != nil {
			var n json.Number
			if nerr := json.Unmarshal(raw, &n); nerr == nil {
				a.ID = n.String()
				a.numericID = true
			} else {
				a.rawID = raw
			}
		}
	} else {
		a.idMissing = true
	}

	if raw, ok := fields["text"]; ok {
		delete(fields, "text")
		if err := json.Unmarshal(raw, &a.Text); err != nil {
			a.rawText = raw
		}
	} else {
		a.textMissing = true
	}

	if raw, ok := fields["cues"]; ok {
		delete(fields, "cues")
		if err := json.Unmarshal(raw, &a.Cues); err != nil {
			a.Cues = nil
			a.rawCues = raw
		}
	} else {
		a.cuesMissing = true
	}

	if raw, ok := fields["scopes"]; ok {
		delete(fields, "scopes")
		if err := json.Unmarshal(raw, &a.Scopes); err != nil {
			a.Scopes = nil
			a.rawScopes = raw
		}
	}

	if raw, ok := fields["validated_at"]; ok {
		// a non-string value stays in Extra
		if err := json.Unmarshal(raw, &a.ValidatedAt); err == nil {
			delete(fields, "validated_at")
		}
	}

	if len(fields) > 0 {
		a.Extra = fields
	}
	if a.Cues == nil && a.rawCues == nil && !a.cuesMissing {
		a.Cues = []Cue{}
	}
	if a.Scopes == nil {
		a.Scopes = []Scope{}
	}
	return nil
}

// MarshalJSON writes the record with a stable key order. Required keys that
// were absent on input are left out.
func (a Annotation) MarshalJSON() ([]byte, error) {
	ow := newObjectWriter()
	switch {
	case a.rawID != nil:
		ow.raw("id", a.rawID)
	case a.idMissing:
	case a.numericID:
		ow.raw("id", json.RawMessage(a.ID))
	default:
		ow.field("id", a.ID)
	}

	switch {
	case a.rawText != nil:
		ow.raw("text", a.rawText)
	case a.textMissing:
	default:
		ow.field("text", a.Text)
	}

	switch {
	case a.rawCues != nil:
		ow.raw("cues", a.rawCues)
	case a.cuesMissing:
	default:
		cues := a.Cues
		if cues == nil {
			cues = []Cue{}
		}
		ow.field("cues", cues)
	}

	if a.rawScopes != nil {
		ow.raw("scopes", a.rawScopes)
	} else {
		scopes := a.Scopes
		if scopes == nil {
			scopes = []Scope{}
		}
		ow.field("scopes", scopes)
	}

	if a.ValidatedAt != "" {
		ow.field("validated_at", a.ValidatedAt)
	}
	ow.extras(a.Extra)
	return ow.bytes()
}

// CueCount returns the number of cues, 0 when cues is not a list.
func (a *Annotation) CueCount() int {
	return len(a.Cues)
}

// ScopeCount returns the number of object scopes.
func (a *Annotation) ScopeCount() int {
	n := 0
	for i := range a.Scopes {
		if !a.Scopes[i].Opaque() {
			n++
		}
	}
	return n
}

// MissingFields returns the required keys absent from a raw JSON record.
// It fails when the record is not a JSON object.
func MissingFields(raw json.RawMessage) ([]string, error) {
	fields, err := splitObject(raw)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, key := range RequiredFields {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing, nil
}

// IDFromRaw extracts a printable id from a raw record, or "unknown".
func IDFromRaw(raw json.RawMessage) string {
	fields, err := splitObject(raw)
	if err != nil {
		return "unknown"
	}
	idRaw, ok := fields["id"]
	if !ok {
		return "unknown"
	}
	var id string
	if err := json.Unmarshal(idRaw, &id); err == nil {
		return id
	}
	var n json.Number
	if err := json.Unmarshal(idRaw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(idRaw))
}

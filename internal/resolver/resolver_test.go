package resolver

import (
	"reflect"
	"sync"
	"testing"

	"github.com/Corphon/AutoAnnotator/internal/models"
)

func substr(text string, s models.Span) string {
	return string([]rune(text)[s.Start:s.End])
}

func TestResolveEmptyInputs(t *testing.T) {
	r := NewWindowResolver()
	cases := []struct {
		name  string
		text  string
		label string
	}{
		{"empty label", "The patient has no fever.", ""},
		{"blank label", "The patient has no fever.", "   "},
		{"only commas and spaces", "The patient has no fever.", " , ,"},
		{"empty text", "", "fever"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spans, ok := r.Resolve(tc.text, tc.label)
			if ok || spans != nil {
				t.Fatalf("expected no positions, got %v (ok=%v)", spans, ok)
			}
		})
	}
}

func TestResolveVerbatim(t *testing.T) {
	r := NewWindowResolver()
	cases := []struct {
		text string
		cand string
		want models.Span
	}{
		{"The patient has no signs of infection.", "signs of infection", models.Span{Start: 19, End: 37}},
		{"no fever", "fever", models.Span{Start: 3, End: 8}},
		{"fever fever fever", "fever", models.Span{Start: 0, End: 5}},
		{"Pas de douleur à la palpation", "douleur à la palpation", models.Span{Start: 7, End: 29}},
	}
	for _, tc := range cases {
		spans, ok := r.Resolve(tc.text, tc.cand)
		if !ok || len(spans) != 1 {
			t.Fatalf("%q in %q: expected one span, got %v", tc.cand, tc.text, spans)
		}
		if spans[0] != tc.want {
			t.Errorf("%q: got %v, want %v", tc.cand, spans[0], tc.want)
		}
		if got := substr(tc.text, spans[0]); got != tc.cand {
			t.Errorf("text at span = %q, want %q", got, tc.cand)
		}
	}
}

func TestResolveCaseAndComposition(t *testing.T) {
	r := NewWindowResolver()
	text := "Patient said HÉLLO twice"
	spans, ok := r.Resolve(text, "Héllo")
	if !ok {
		t.Fatal("expected a match")
	}
	want := models.Span{Start: 13, End: 18}
	if spans[0] != want {
		t.Fatalf("got %v, want %v", spans[0], want)
	}
	if Normalize(substr(text, spans[0])) != Normalize("Héllo") {
		t.Errorf("folded span %q does not equal folded candidate", substr(text, spans[0]))
	}
}

func TestResolveWhitespaceTolerance(t *testing.T) {
	r := NewWindowResolver()
	text := "patient not responding today"
	cand := "not   responding"

	matches := r.ResolveCandidates(text, cand)
	if len(matches) != 1 || matches[0].Strategy != StrategyWindow {
		t.Fatalf("expected a window match, got %+v", matches)
	}
	if want := (models.Span{Start: 7, End: 23}); matches[0].Span != want {
		t.Errorf("got %v, want %v", matches[0].Span, want)
	}
	if Normalize(substr(text, matches[0].Span)) != "not responding" {
		t.Errorf("span text %q does not normalize to the candidate", substr(text, matches[0].Span))
	}
}

// A candidate shorter than its occurrence in the text has no window of the
// right width, and the literal pass cannot bridge the extra spaces.
func TestResolveWhitespaceWiderInText(t *testing.T) {
	r := NewWindowResolver()
	spans, ok := r.Resolve("patient not   responding today", "not responding")
	if ok || spans != nil {
		t.Fatalf("expected no match, got %v", spans)
	}
}

func TestResolveMultipleCandidates(t *testing.T) {
	r := NewWindowResolver()
	text := "patient reports fever and chills"
	spans, ok := r.Resolve(text, "fever, chills")
	if !ok {
		t.Fatal("expected matches")
	}
	want := []models.Span{{Start: 16, End: 21}, {Start: 26, End: 32}}
	if !reflect.DeepEqual(spans, want) {
		t.Fatalf("got %v, want %v", spans, want)
	}
	if substr(text, spans[0]) != "fever" || substr(text, spans[1]) != "chills" {
		t.Errorf("unexpected span texts %q, %q", substr(text, spans[0]), substr(text, spans[1]))
	}
}

func TestResolveKeepsDuplicatesAndSkipsMisses(t *testing.T) {
	r := NewWindowResolver()
	text := "no cough, no fever"
	spans, ok := r.Resolve(text, "fever, headache, fever")
	if !ok {
		t.Fatal("expected matches")
	}
	want := []models.Span{{Start: 13, End: 18}, {Start: 13, End: 18}}
	if !reflect.DeepEqual(spans, want) {
		t.Fatalf("got %v, want %v", spans, want)
	}

	matches := r.ResolveCandidates(text, "fever, headache, fever")
	if len(matches) != 3 || matches[1].Strategy != StrategyNone || matches[1].Candidate != "headache" {
		t.Errorf("unexpected per-candidate outcome: %+v", matches)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r := NewWindowResolver()
	text := "Absence de fièvre, pas de frissons"
	first, _ := r.Resolve(text, "fièvre, frissons")
	second, _ := r.Resolve(text, "fièvre, frissons")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ: %v vs %v", first, second)
	}
}

func TestResolveConcurrentUse(t *testing.T) {
	r := NewWindowResolver()
	text := "patient reports fever and chills"
	want, _ := r.Resolve(text, "fever, chills")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _ := r.Resolve(text, "fever, chills")
			if !reflect.DeepEqual(got, want) {
				t.Errorf("concurrent result %v, want %v", got, want)
			}
		}()
	}
	wg.Wait()
}

// Ligatures change the rune count under NFKC. These cases pin which pass
// decides the outcome.
func TestResolveLigatures(t *testing.T) {
	r := NewWindowResolver()

	matches := r.ResolveCandidates("the final answer", "ﬁnal")
	if len(matches) != 1 || matches[0].Found() {
		t.Fatalf("ligature candidate against plain text: expected no match, got %+v", matches)
	}

	text := "the ﬁnal answer"
	matches = r.ResolveCandidates(text, "final")
	if len(matches) != 1 || matches[0].Strategy != StrategyWindow {
		t.Fatalf("plain candidate against ligature text: expected window match, got %+v", matches)
	}
	if want := (models.Span{Start: 3, End: 8}); matches[0].Span != want {
		t.Errorf("got %v, want %v", matches[0].Span, want)
	}
	if got := substr(text, matches[0].Span); got != " ﬁnal" {
		t.Errorf("span text = %q", got)
	}
}

func TestResolveCandidateLongerThanText(t *testing.T) {
	r := NewWindowResolver()
	spans, ok := r.Resolve("fever", "  fever  ")
	if !ok || spans[0] != (models.Span{Start: 0, End: 5}) {
		t.Fatalf("expected trimmed candidate to match, got %v", spans)
	}
}

func TestSplitCandidates(t *testing.T) {
	cases := []struct {
		label string
		want  []string
	}{
		{"fever, chills", []string{"fever", "chills"}},
		{" a ,, b ,", []string{"a", "b"}},
		{"single", []string{"single"}},
		{" , ", []string{" , "}},
	}
	for _, tc := range cases {
		if got := SplitCandidates(tc.label); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitCandidates(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Not\t\tRESPONDING \n": "not responding",
		"\ufb01nal":              "final",
		"Caf\u00c9":              "caf\u00e9",
		"":                       "",
		" x ":                    "x",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLiteralSearchHelpers(t *testing.T) {
	hay := lowerRunes([]rune("Une ÉTUDE clinique"))
	if idx := indexRunes(hay, lowerRunes([]rune("étude"))); idx != 4 {
		t.Errorf("indexRunes = %d, want 4", idx)
	}
	if idx := indexRunes(hay, []rune("absent")); idx != -1 {
		t.Errorf("indexRunes = %d, want -1", idx)
	}
	if idx := indexRunes([]rune("ab"), []rune("abc")); idx != -1 {
		t.Errorf("needle longer than haystack should not match")
	}
}

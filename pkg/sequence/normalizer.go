// Cleaning, validation and composition statistics for raw DNA reads.

package sequence

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMinLength     = 50
	DefaultMaxLength     = 10000
	DefaultMinValidRatio = 0.8
)

// ValidationError explains why a sequence was rejected. It is per-sequence and
// never aborts a batch.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid sequence: " + e.Reason
}

// Normalizer holds the validation thresholds. The zero value is not useful; use NewNormalizer.
type Normalizer struct {
	MinLength     int
	MaxLength     int
	MinValidRatio float64
}

func NewNormalizer() Normalizer {
	return Normalizer{
		MinLength:     DefaultMinLength,
		MaxLength:     DefaultMaxLength,
		MinValidRatio: DefaultMinValidRatio,
	}
}

// Clean uppercases the input, trims surrounding whitespace and drops every
// character that is not A, T, C or G. Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'A', 'T', 'C', 'G':
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Validate checks, in order: minimum length, maximum length, then the share of
// unambiguous bases. Lengths are measured on the cleaned sequence; the ratio
// compares the cleaned length with the trimmed raw length.
func (n Normalizer) Validate(raw string) error {
	cleaned := Clean(raw)

	if len(cleaned) < n.MinLength {
		return &ValidationError{Reason: fmt.Sprintf("sequence too short: %d < %d", len(cleaned), n.MinLength)}
	}
	if n.MaxLength > 0 && len(cleaned) > n.MaxLength {
		return &ValidationError{Reason: fmt.Sprintf("sequence too long: %d > %d", len(cleaned), n.MaxLength)}
	}

	if validRatio(raw, cleaned) < n.MinValidRatio {
		return &ValidationError{Reason: fmt.Sprintf("too many ambiguous bases (>%.0f%%)", (1-n.MinValidRatio)*100)}
	}

	return nil
}

// validRatio counts characters, not bytes. It is 1.0 for an empty input,
// nothing in it is ambiguous.
func validRatio(raw, cleaned string) float64 {
	original := utf8.RuneCountInString(strings.ToUpper(strings.TrimSpace(raw)))
	if original == 0 {
		return 1.0
	}
	return float64(len(cleaned)) / float64(original)
}

// QualityScore is the percentage of unambiguous bases in raw.
func QualityScore(raw string) float64 {
	cleaned := Clean(raw)
	if strings.TrimSpace(raw) == "" {
		return 0.0
	}
	return 100.0 * validRatio(raw, cleaned)
}

// GCContent is (G+C)/length of the cleaned sequence, 0 when empty.
func GCContent(raw string) float64 {
	cleaned := Clean(raw)
	if len(cleaned) == 0 {
		return 0.0
	}
	gc := strings.Count(cleaned, "G") + strings.Count(cleaned, "C")
	return float64(gc) / float64(len(cleaned))
}

type BaseCounts struct {
	A int `json:"A"`
	T int `json:"T"`
	C int `json:"C"`
	G int `json:"G"`
}

// Composition is the summary returned by Stats.
type Composition struct {
	Length     int        `json:"length"`
	GCContent  float64    `json:"gc_content"`
	BaseCounts BaseCounts `json:"base_counts"`
	Valid      bool       `json:"is_valid"`
}

// Stats summarises the cleaned sequence. An empty result is all zeros with Valid false.
func Stats(raw string) Composition {
	cleaned := Clean(raw)
	if len(cleaned) == 0 {
		return Composition{}
	}

	var counts BaseCounts
	for i := 0; i < len(cleaned); i++ {
		switch cleaned[i] {
		case 'A':
			counts.A++
		case 'T':
			counts.T++
		case 'C':
			counts.C++
		case 'G':
			counts.G++
		}
	}

	return Composition{
		Length:     len(cleaned),
		GCContent:  float64(counts.G+counts.C) / float64(len(cleaned)),
		BaseCounts: counts,
		Valid:      true,
	}
}

// Package compare reconciles realm profiles into a coherence score. A
// genuine single browser presents the same environment to every realm;
// contradicting values across realms are the anomaly this package measures.
package compare

import (
	"math"

	"github.com/google/go-cmp/cmp"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

// Compare performs field-by-field structural comparison between a reference
// realm profile and a candidate realm profile over the given field list.
//
// A field absent (or unreadable) on either side is excluded from the
// denominator and listed in Missing — a worker lacking screen geometry is
// not lying, it just does not have a screen; only contradicting values are
// penalized. CoherenceScore is round(100 * matched / comparable), defined
// as 100 when nothing was comparable.
func Compare(reference, candidate schemas.Profile, fields []string) schemas.ComparisonResult {
	result := schemas.ComparisonResult{
		Reference:   reference.Realm,
		Candidate:   candidate.Realm,
		Comparisons: make([]schemas.FieldComparison, 0, len(fields)),
		Mismatches:  []string{},
		Missing:     []string{},
	}

	for _, field := range fields {
		refVal, refOK := comparableValue(reference.Fields[field])
		candVal, candOK := comparableValue(candidate.Fields[field])
		if !refOK || !candOK {
			result.Missing = append(result.Missing, field)
			continue
		}

		result.ComparableCount++
		match := equalValues(refVal, candVal)
		if match {
			result.MatchedCount++
		} else {
			result.Mismatches = append(result.Mismatches, field)
		}
		result.Comparisons = append(result.Comparisons, schemas.FieldComparison{
			Field:     field,
			Match:     match,
			Reference: refVal,
			Candidate: candVal,
		})
	}

	result.CoherenceScore = Score(result.MatchedCount, result.ComparableCount)
	return result
}

// Score computes round(100 * matched / comparable); vacuous coherence is
// full coherence.
func Score(matched, comparable int) int {
	if comparable == 0 {
		return 100
	}
	return int(math.Round(100 * float64(matched) / float64(comparable)))
}

// comparableValue reports whether a field participates in scoring. Only an
// ok read carries a comparable value.
func comparableValue(fv schemas.FieldValue) (any, bool) {
	if fv.Status != schemas.StatusOK {
		return nil, false
	}
	return fv.Value, true
}

// equalValues compares exported script values structurally: arrays
// element-wise, numbers across the int64/float64 export split.
func equalValues(a, b any) bool {
	return cmp.Equal(normalize(a), normalize(b))
}

// normalize folds integer exports into float64 so 4 and 4.0 collected from
// different backends compare equal, recursing through arrays and objects.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}

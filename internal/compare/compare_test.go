package compare_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/compare"
)

func profileWith(kind schemas.RealmKind, fields map[string]schemas.FieldValue) schemas.Profile {
	return schemas.Profile{Realm: kind, Version: schemas.ProfileVersion, Fields: fields}
}

func okVal(v any) schemas.FieldValue {
	return schemas.FieldValue{Status: schemas.StatusOK, Value: v}
}

func TestCompare_IdenticalProfiles(t *testing.T) {
	fields := map[string]schemas.FieldValue{
		"hardwareConcurrency": okVal(8),
		"userAgent":           okVal("Mozilla/5.0"),
		"languages":           okVal([]any{"en-US", "en"}),
	}
	ref := profileWith(schemas.RealmMain, fields)
	cand := profileWith(schemas.RealmSubDocument, fields)

	result := compare.Compare(ref, cand, []string{"hardwareConcurrency", "userAgent", "languages"})

	assert.Equal(t, 100, result.CoherenceScore)
	assert.Equal(t, 3, result.ComparableCount)
	assert.Equal(t, 3, result.MatchedCount)
	assert.Empty(t, result.Mismatches)
	assert.Empty(t, result.Missing)
}

func TestCompare_SingleMismatch(t *testing.T) {
	ref := profileWith(schemas.RealmMain, map[string]schemas.FieldValue{
		"hardwareConcurrency": okVal(8),
		"platform":            okVal("Linux x86_64"),
	})
	cand := profileWith(schemas.RealmWorker, map[string]schemas.FieldValue{
		"hardwareConcurrency": okVal(4),
		"platform":            okVal("Linux x86_64"),
	})

	result := compare.Compare(ref, cand, []string{"hardwareConcurrency", "platform"})

	assert.Equal(t, 50, result.CoherenceScore)
	assert.Equal(t, []string{"hardwareConcurrency"}, result.Mismatches)
	require.Len(t, result.Comparisons, 2)
	assert.False(t, result.Comparisons[0].Match)
	assert.True(t, result.Comparisons[1].Match)
}

func TestCompare_MissingExcludedFromDenominator(t *testing.T) {
	// A worker legitimately has no screen; that is absence, not contradiction.
	ref := profileWith(schemas.RealmMain, map[string]schemas.FieldValue{
		"screenWidth": okVal(1920),
		"userAgent":   okVal("Mozilla/5.0"),
	})
	cand := profileWith(schemas.RealmWorker, map[string]schemas.FieldValue{
		"screenWidth": {Status: schemas.StatusMissing},
		"userAgent":   okVal("Mozilla/5.0"),
	})

	result := compare.Compare(ref, cand, []string{"screenWidth", "userAgent"})

	assert.Equal(t, 100, result.CoherenceScore)
	assert.Equal(t, 1, result.ComparableCount)
	assert.Equal(t, []string{"screenWidth"}, result.Missing)
	assert.Empty(t, result.Mismatches)
}

func TestCompare_NothingComparable(t *testing.T) {
	ref := profileWith(schemas.RealmMain, map[string]schemas.FieldValue{})
	cand := profileWith(schemas.RealmSubDocument, map[string]schemas.FieldValue{})

	result := compare.Compare(ref, cand, []string{"userAgent"})
	assert.Equal(t, 100, result.CoherenceScore)
	assert.Equal(t, 0, result.ComparableCount)
}

func TestCompare_NumericExportSplit(t *testing.T) {
	// An embedded interpreter exports 4 as int64 while a browser exports 4.0;
	// the two still belong to the same environment.
	ref := profileWith(schemas.RealmMain, map[string]schemas.FieldValue{
		"hardwareConcurrency": okVal(int64(4)),
	})
	cand := profileWith(schemas.RealmSubDocument, map[string]schemas.FieldValue{
		"hardwareConcurrency": okVal(float64(4)),
	})

	result := compare.Compare(ref, cand, []string{"hardwareConcurrency"})
	assert.Equal(t, 100, result.CoherenceScore)
	assert.Empty(t, result.Mismatches)
}

func TestCompare_ArraysComparedElementwise(t *testing.T) {
	ref := profileWith(schemas.RealmMain, map[string]schemas.FieldValue{
		"languages": okVal([]any{"en-US", "en"}),
	})
	cand := profileWith(schemas.RealmSubDocument, map[string]schemas.FieldValue{
		"languages": okVal([]string{"en-US", "en"}),
	})
	swapped := profileWith(schemas.RealmSubDocument, map[string]schemas.FieldValue{
		"languages": okVal([]any{"en", "en-US"}),
	})

	assert.Equal(t, 100, compare.Compare(ref, cand, []string{"languages"}).CoherenceScore)
	assert.Equal(t, 0, compare.Compare(ref, swapped, []string{"languages"}).CoherenceScore)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100, compare.Score(0, 0))
	assert.Equal(t, 100, compare.Score(5, 5))
	assert.Equal(t, 0, compare.Score(0, 5))
	assert.Equal(t, 67, compare.Score(2, 3))

	// Monotone in matches for a fixed denominator.
	prev := -1
	for matched := 0; matched <= 10; matched++ {
		s := compare.Score(matched, 10)
		assert.Greater(t, s, prev)
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, 100)
		prev = s
	}
}

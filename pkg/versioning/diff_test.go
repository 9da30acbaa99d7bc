package versioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareRecords_Antisymmetric(t *testing.T) {
	cat := uint(3)
	a := &QuestionVersionRecord{ID: 1, VersionNumber: 1, Question: "a", QuestionType: TypeSimpleFact, Difficulty: DifficultyEasy, ChangeReason: "initial"}
	b := &QuestionVersionRecord{ID: 2, VersionNumber: 2, Question: "b", CategoryID: &cat, QuestionType: TypeSimpleFact, Difficulty: DifficultyHard, ChangeReason: "initial"}

	ab := CompareRecords(a, b)
	ba := CompareRecords(b, a)

	require.ElementsMatch(t, ComparableFieldNames(), keys(ab.Differences))
	for _, name := range ComparableFieldNames() {
		fwd, rev := ab.Differences[name], ba.Differences[name]
		assert.Equal(t, fwd.Changed, rev.Changed, name)
		assert.Equal(t, fwd.OldValue, rev.NewValue, name)
		assert.Equal(t, fwd.NewValue, rev.OldValue, name)
	}

	assert.True(t, ab.Differences["question"].Changed)
	assert.True(t, ab.Differences["categoryId"].Changed)
	assert.Nil(t, ab.Differences["categoryId"].OldValue)
	assert.Equal(t, uint(3), ab.Differences["categoryId"].NewValue)
	assert.False(t, ab.Differences["questionType"].Changed)
	assert.True(t, ab.Differences["difficulty"].Changed)
	assert.False(t, ab.Differences["changeReason"].Changed)

	assert.Equal(t, "v1", ab.From.Label)
	assert.Equal(t, "v2", ab.To.Label)
}

func TestCompareRecords_SameRecord(t *testing.T) {
	cat := uint(1)
	r := &QuestionVersionRecord{ID: 5, VersionNumber: 4, Question: "q", CategoryID: &cat}
	other := *r
	otherCat := uint(1)
	other.CategoryID = &otherCat

	for name, d := range CompareRecords(r, &other).Differences {
		assert.False(t, d.Changed, name)
	}
}

func TestDiffEngine_Compare(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")
	v1 := env.createVersion(t, d.ID, "one", "initial")
	v2 := env.createVersion(t, d.ID, "two", "initial")

	cmp, err := env.diff.Compare(ctx, v1.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, cmp.From.VersionID)
	assert.Equal(t, v2.ID, cmp.To.VersionID)
	assert.True(t, cmp.Differences["question"].Changed)
	assert.Equal(t, "one", cmp.Differences["question"].OldValue)
	assert.False(t, cmp.Differences["changeReason"].Changed)

	_, err = env.diff.Compare(ctx, v1.ID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.diff.Compare(ctx, 9999, v1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func keys(m map[string]FieldDifference) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

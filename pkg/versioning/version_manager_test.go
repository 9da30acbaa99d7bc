package versioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionManager_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "draft text")

	v1 := env.createVersion(t, d.ID, "v1 text", "initial")
	assert.Equal(t, 1, v1.VersionNumber)
	v2 := env.createVersion(t, d.ID, "v2 text", "fix typo")
	assert.Equal(t, 2, v2.VersionNumber)

	v3, err := env.versions.Rollback(ctx, d.ID, v1.ID, "revert typo fix", "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.VersionNumber)
	assert.Equal(t, "v1 text", v3.Question)

	history, err := env.versions.GetHistory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{history[0].VersionNumber, history[1].VersionNumber, history[2].VersionNumber})

	cmp, err := env.diff.Compare(ctx, v1.ID, v3.ID)
	require.NoError(t, err)
	assert.False(t, cmp.Differences["question"].Changed)
	assert.True(t, cmp.Differences["changeReason"].Changed)

	q, err := env.versions.GetQuestion(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, q.CurrentVersion)
	assert.Equal(t, "v1 text", q.Question)
}

func TestVersionManager_NewQuestionHasNoVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")

	assert.Equal(t, 0, d.CurrentVersion)
	assert.Equal(t, StatusDraft, d.Status)

	history, err := env.versions.GetHistory(ctx, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	_, err = env.versions.GetLatest(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	next, err := env.versions.GetNextVersionNumber(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestVersionManager_CreateQuestionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   QuestionInput
	}{
		{"blank body", QuestionInput{Question: "  ", QuestionType: TypeSubjective}},
		{"unknown type", QuestionInput{Question: "q", QuestionType: "essay"}},
		{"unknown difficulty", QuestionInput{Question: "q", QuestionType: TypeSubjective, Difficulty: "extreme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.versions.CreateQuestion(ctx, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestVersionManager_CreateVersionErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")

	_, err := env.versions.CreateVersion(ctx, d.ID, VersionInput{Question: ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.versions.CreateVersion(ctx, 9999, VersionInput{Question: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	// Failed attempts leave no trace.
	next, err := env.versions.GetNextVersionNumber(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestVersionManager_CopiesClassificationFromQuestion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cat := uint(7)
	d, err := env.versions.CreateQuestion(ctx, QuestionInput{
		Question:     "q",
		CategoryID:   &cat,
		QuestionType: TypeMultipleChoice,
		Difficulty:   DifficultyHard,
	})
	require.NoError(t, err)

	v := env.createVersion(t, d.ID, "q2", "")
	require.NotNil(t, v.CategoryID)
	assert.Equal(t, cat, *v.CategoryID)
	assert.Equal(t, TypeMultipleChoice, v.QuestionType)
	assert.Equal(t, DifficultyHard, v.Difficulty)
	assert.Equal(t, "u1", v.ChangedBy)
}

func TestVersionManager_DefaultActor(t *testing.T) {
	env := newTestEnv(t)
	d := env.createQuestion(t, "body")

	v, err := env.versions.CreateVersion(context.Background(), d.ID, VersionInput{Question: "x"})
	require.NoError(t, err)
	assert.Equal(t, SystemActor, v.ChangedBy)
}

func TestVersionManager_ContiguousNumbering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")

	for i := 1; i <= 6; i++ {
		v := env.createVersion(t, d.ID, "text", "")
		assert.Equal(t, i, v.VersionNumber)

		q, err := env.versions.GetQuestion(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, i, q.CurrentVersion)
	}

	page, err := env.versions.GetHistoryPage(ctx, d.ID, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.Total)
	assert.Equal(t, 2, page.Pages())
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Items[0].VersionNumber)
	assert.Equal(t, 1, page.Items[1].VersionNumber)
}

func TestVersionManager_Rollback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")
	v1 := env.createVersion(t, d.ID, "first", "")
	env.createVersion(t, d.ID, "second", "")

	t.Run("reason is synthesized", func(t *testing.T) {
		v, err := env.versions.Rollback(ctx, d.ID, v1.ID, "", "u2")
		require.NoError(t, err)
		assert.Equal(t, 3, v.VersionNumber)
		assert.Equal(t, "rollback to v1", v.ChangeReason)
		assert.Equal(t, "u2", v.ChangedBy)

		v, err = env.versions.Rollback(ctx, d.ID, v1.ID, "bad edit", "u2")
		require.NoError(t, err)
		assert.Equal(t, 4, v.VersionNumber)
		assert.Equal(t, "rollback to v1: bad edit", v.ChangeReason)
	})

	t.Run("target must exist", func(t *testing.T) {
		_, err := env.versions.Rollback(ctx, d.ID, 9999, "", "u2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("target must belong to the question", func(t *testing.T) {
		other := env.createQuestion(t, "other")
		ov := env.createVersion(t, other.ID, "other v1", "")

		_, err := env.versions.Rollback(ctx, d.ID, ov.ID, "", "u2")
		assert.ErrorIs(t, err, ErrValidation)

		q, err := env.versions.GetQuestion(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, q.CurrentVersion)
	})

	assert.Equal(t, 2, env.observer.created["rollback"])
}

func TestVersionManager_DeleteVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")
	v1 := env.createVersion(t, d.ID, "first", "")
	v2 := env.createVersion(t, d.ID, "second", "")

	err := env.versions.DeleteVersion(ctx, v2.ID, "admin")
	assert.ErrorIs(t, err, ErrInvalidState, "current version cannot be deleted")

	require.NoError(t, env.versions.DeleteVersion(ctx, v1.ID, "admin"))

	_, err = env.versions.GetVersion(ctx, v1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.versions.DeleteVersion(ctx, v1.ID, "admin"), ErrNotFound)

	history, err := env.versions.GetHistory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].VersionNumber)

	// Numbers of deleted records are never reissued.
	v3 := env.createVersion(t, d.ID, "third", "")
	assert.Equal(t, 3, v3.VersionNumber)

	_, err = env.diff.Compare(ctx, v1.ID, v3.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := env.versions.CountVersions(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestVersionManager_ConcurrentCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")

	// A second manager over the same database stands in for another replica.
	replica := NewVersionManager(env.db, WithRetryPolicy(RetryPolicy{MaxAttempts: 10, Backoff: time.Millisecond}))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := env.versions
			if i%2 == 1 {
				m = replica
			}
			_, err := m.CreateVersion(ctx, d.ID, VersionInput{Question: "concurrent", ChangedBy: "u1"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := env.versions.GetHistory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, n)
	for i, v := range history {
		assert.Equal(t, n-i, v.VersionNumber)
	}

	q, err := env.versions.GetQuestion(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, n, q.CurrentVersion)
	assert.Equal(t, 0, env.versions.locks.size())
}

func TestVersionManager_ReplayMatchesProjection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")

	require.NoError(t, env.versions.VerifyProjection(ctx, d.ID))

	v1 := env.createVersion(t, d.ID, "a", "")
	env.createVersion(t, d.ID, "b", "")
	_, err := env.versions.Rollback(ctx, d.ID, v1.ID, "", "u1")
	require.NoError(t, err)
	env.createVersion(t, d.ID, "c", "")

	replayed, err := env.versions.Replay(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, replayed.CurrentVersion)
	assert.Equal(t, "c", replayed.Question)
	require.NoError(t, env.versions.VerifyProjection(ctx, d.ID))

	// Drift the projection behind the manager's back.
	require.NoError(t, NewQuestionStore(env.db).ApplyProjection(ctx, d.ID, Projection{
		Question:       "tampered",
		QuestionType:   TypeSimpleFact,
		Difficulty:     DifficultyEasy,
		CurrentVersion: 4,
	}))
	assert.ErrorIs(t, env.versions.VerifyProjection(ctx, d.ID), ErrInvalidState)
}

func TestVersionManager_QuestionStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")

	stats, err := env.versions.QuestionStats(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.VersionCount)
	assert.Nil(t, stats.LatestVersion)

	env.createVersion(t, d.ID, "a", "")
	env.createVersion(t, d.ID, "b", "")
	stats, err = env.versions.QuestionStats(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.VersionCount)
	require.NotNil(t, stats.LatestVersion)
	assert.Equal(t, 2, stats.LatestVersion.VersionNumber)

	_, err = env.versions.QuestionStats(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVersionManager_ChangeQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createQuestion(t, "body")
	env.createVersion(t, d.ID, "a", "")
	_, err := env.versions.CreateVersion(ctx, d.ID, VersionInput{Question: "b", ChangedBy: "u2"})
	require.NoError(t, err)

	now := time.Now()
	changes, err := env.versions.ListChangesBetween(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	changes, err = env.versions.ListChangesBetween(ctx, now.Add(24*time.Hour), now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changes)

	// The window is an instant range whatever offset the caller uses.
	for _, offset := range []int{8, -8} {
		zone := time.FixedZone("", offset*3600)
		changes, err = env.versions.ListChangesBetween(ctx, now.Add(-time.Minute).In(zone), now.Add(time.Minute).In(zone))
		require.NoError(t, err)
		assert.Len(t, changes, 2, "offset %+d", offset)
	}

	_, err = env.versions.ListChangesBetween(ctx, now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrValidation)

	byActor, err := env.versions.ListByActor(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, "b", byActor[0].Question)

	_, err = env.versions.ListByActor(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVersionManager_Statistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createQuestion(t, "a")
	b := env.createQuestion(t, "b")
	env.createVersion(t, a.ID, "a1", "")
	env.createVersion(t, a.ID, "a2", "")
	env.createVersion(t, b.ID, "b1", "")

	_, err := env.datasets.Create(ctx, CreateDatasetInput{Name: "ds-1", QuestionIDs: []uint{a.ID}})
	require.NoError(t, err)
	ds2, err := env.datasets.Create(ctx, CreateDatasetInput{Name: "ds-2", QuestionIDs: []uint{a.ID, b.ID}})
	require.NoError(t, err)
	_, err = env.datasets.Publish(ctx, ds2.ID, "u1")
	require.NoError(t, err)

	stats, err := env.versions.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalDatasetVersions)
	assert.Equal(t, int64(1), stats.PublishedDatasetVersions)
	assert.Equal(t, int64(3), stats.TotalQuestionVersions)
	assert.Equal(t, int64(1), stats.QuestionsWithMultipleVersions)
	assert.Equal(t, "ds-2", stats.LatestDatasetVersion)
	assert.Equal(t, int64(3), stats.VersionChangesThisMonth)

	// Day boundaries in a non-UTC zone still count today's versions.
	shifted := NewVersionManager(env.db, WithClock(func() time.Time {
		return time.Now().In(time.FixedZone("", 8*3600))
	}))
	stats, err = shifted.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.VersionChangesToday)

	// A clock a year ahead sees no recent activity.
	future := NewVersionManager(env.db, WithClock(func() time.Time { return time.Now().AddDate(1, 0, 0) }))
	stats, err = future.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.VersionChangesThisMonth)
	assert.Equal(t, int64(0), stats.VersionChangesToday)
}

func TestVersionManager_AuditEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithCorrelationID(context.Background(), "corr-1")
	d := env.createQuestion(t, "body")

	v1, err := env.versions.CreateVersion(ctx, d.ID, VersionInput{Question: "a", ChangeReason: "initial", ChangedBy: "u1"})
	require.NoError(t, err)
	env.createVersion(t, d.ID, "b", "")
	_, err = env.versions.Rollback(ctx, d.ID, v1.ID, "", "u1")
	require.NoError(t, err)

	events, _, total, err := env.audit.ListFiltered(AuditListFilter{EventType: EventVersionCreated}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, events, 2)

	events, _, _, err = env.audit.ListFiltered(AuditListFilter{EventType: EventVersionRolledBack}, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "corr-1", events[0].CorrelationID)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "question", events[0].ResourceType)
}

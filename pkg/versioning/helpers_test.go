package versioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/llmeval/qa-registry/pkg/db"
)

// newTestDB creates an in-memory SQLite DB with every registry table
// migrated. The pool is pinned to one connection so all sessions see the
// same in-memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        db.NowUTC,
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(gormDB))
	return gormDB
}

type testEnv struct {
	db       *gorm.DB
	versions *VersionManager
	datasets *DatasetManager
	diff     *DiffEngine
	audit    *AuditStore
	users    *UserStore
	observer *recordingObserver
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db := newTestDB(t)
	audit := NewAuditStore(db)
	obs := &recordingObserver{}
	all := append([]Option{
		WithAuditStore(audit),
		WithObserver(obs),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}),
	}, opts...)
	return &testEnv{
		db:       db,
		versions: NewVersionManager(db, all...),
		datasets: NewDatasetManager(db, all...),
		diff:     NewDiffEngine(NewVersionStore(db)),
		audit:    audit,
		users:    NewUserStore(db),
		observer: obs,
	}
}

func (e *testEnv) createQuestion(t *testing.T, body string) *QuestionRecord {
	t.Helper()
	q, err := e.versions.CreateQuestion(context.Background(), QuestionInput{
		Question:     body,
		QuestionType: TypeSimpleFact,
		Difficulty:   DifficultyEasy,
		CreatedBy:    "u1",
	})
	require.NoError(t, err)
	return q
}

func (e *testEnv) createVersion(t *testing.T, questionID uint, body, reason string) *QuestionVersionRecord {
	t.Helper()
	v, err := e.versions.CreateVersion(context.Background(), questionID, VersionInput{
		Question:     body,
		ChangeReason: reason,
		ChangedBy:    "u1",
	})
	require.NoError(t, err)
	return v
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	mu        sync.Mutex
	created   map[string]int
	retried   map[string]int
	published int
	members   map[string]int
}

func (o *recordingObserver) VersionCreated(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.created == nil {
		o.created = map[string]int{}
	}
	o.created[kind]++
}

func (o *recordingObserver) WriteRetried(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retried == nil {
		o.retried = map[string]int{}
	}
	o.retried[reason]++
}

func (o *recordingObserver) DatasetPublished() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published++
}

func (o *recordingObserver) DatasetMembershipChanged(op string, delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.members == nil {
		o.members = map[string]int{}
	}
	o.members[op] += delta
}

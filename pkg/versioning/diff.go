package versioning

import (
	"context"
)

// comparableField reads one tracked field from a version record.
type comparableField struct {
	name  string
	value func(r *QuestionVersionRecord) any
}

// comparableFields is the fixed set of fields reported by Compare.
var comparableFields = []comparableField{
	{name: "question", value: func(r *QuestionVersionRecord) any { return r.Question }},
	{name: "categoryId", value: func(r *QuestionVersionRecord) any {
		if r.CategoryID == nil {
			return nil
		}
		return *r.CategoryID
	}},
	{name: "questionType", value: func(r *QuestionVersionRecord) any { return string(r.QuestionType) }},
	{name: "difficulty", value: func(r *QuestionVersionRecord) any { return string(r.Difficulty) }},
	{name: "changeReason", value: func(r *QuestionVersionRecord) any { return r.ChangeReason }},
}

// ComparableFieldNames returns the names of the fields Compare reports on.
func ComparableFieldNames() []string {
	names := make([]string, len(comparableFields))
	for i, f := range comparableFields {
		names[i] = f.name
	}
	return names
}

// DiffEngine compares stored version records.
type DiffEngine struct {
	versions *VersionStore
}

// NewDiffEngine creates a DiffEngine reading from store.
func NewDiffEngine(store *VersionStore) *DiffEngine {
	return &DiffEngine{versions: store}
}

// Compare loads two versions and reports, per tracked field, whether the
// value differs. Equality is whole-value; no text diff is computed.
func (e *DiffEngine) Compare(ctx context.Context, fromVersionID, toVersionID uint) (*VersionComparison, error) {
	from, err := e.load(ctx, fromVersionID)
	if err != nil {
		return nil, err
	}
	to, err := e.load(ctx, toVersionID)
	if err != nil {
		return nil, err
	}
	return CompareRecords(from, to), nil
}

func (e *DiffEngine) load(ctx context.Context, id uint) (*QuestionVersionRecord, error) {
	record, err := e.versions.Get(ctx, id)
	if err != nil {
		return nil, storageError("load version for compare", err)
	}
	if record == nil {
		return nil, notFoundf("version %d", id)
	}
	return record, nil
}

// CompareRecords diffs two in-memory records.
func CompareRecords(from, to *QuestionVersionRecord) *VersionComparison {
	diffs := make(map[string]FieldDifference, len(comparableFields))
	for _, f := range comparableFields {
		oldValue, newValue := f.value(from), f.value(to)
		diffs[f.name] = FieldDifference{
			Changed:  oldValue != newValue,
			OldValue: oldValue,
			NewValue: newValue,
		}
	}
	return &VersionComparison{
		From:        summarize(from),
		To:          summarize(to),
		Differences: diffs,
	}
}

func summarize(r *QuestionVersionRecord) VersionSummary {
	return VersionSummary{VersionID: r.ID, Label: r.Label(), CreatedAt: r.CreatedAt}
}

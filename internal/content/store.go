// Package content stores versioned instructional resources: questions,
// test sets and knowledge documents.
//
// A group id is stable across edits; each edit writes a new row with the
// next version number and moves the is_current flag. Existing rows are
// never updated except for that flag and the group lifecycle tag, so a
// pinned (group, version) pair always resolves to the same content.
package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
)

// Store works on q, which may be a *sql.DB or a *sql.Tx. lock is the
// row-locking suffix from db.DB.ForUpdate.
type Store struct {
	q    db.Querier
	lock string
	now  func() time.Time
}

func NewStore(q db.Querier, lock string) *Store {
	return &Store{q: q, lock: lock, now: time.Now}
}

const versionCols = `id, group_id, kind, version_number, is_current, lifecycle, title, content_json, created_by, created_at`

func scanVersion(sc interface{ Scan(...any) error }) (Version, error) {
	var (
		v       Version
		current int
		body    string
		created int64
	)
	if err := sc.Scan(&v.ID, &v.GroupID, &v.Kind, &v.Number, &current, &v.Lifecycle, &v.Title, &body, &v.CreatedBy, &created); err != nil {
		return Version{}, err
	}
	v.IsCurrent = current == 1
	v.Content = json.RawMessage(body)
	v.CreatedAt = time.Unix(created, 0).UTC()
	return v, nil
}

// Current returns the current version of an active group.
func (s *Store) Current(ctx context.Context, groupID string) (Version, error) {
	return s.current(ctx, groupID, "")
}

// CurrentForUpdate is Current with the row locked, so a concurrent edit
// cannot supersede the version while the caller pins it.
func (s *Store) CurrentForUpdate(ctx context.Context, groupID string) (Version, error) {
	return s.current(ctx, groupID, s.lock)
}

func (s *Store) current(ctx context.Context, groupID, lock string) (Version, error) {
	v, err := scanVersion(s.q.QueryRowContext(ctx,
		`SELECT `+versionCols+` FROM resource_versions WHERE group_id=$1 AND is_current=1`+lock, groupID))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && v.Lifecycle == Deleted) {
		return Version{}, apperr.NotFound("resource", groupID)
	}
	return v, err
}

// Version returns one specific version regardless of lifecycle, so pinned
// history keeps resolving after a group is deleted.
func (s *Store) Version(ctx context.Context, groupID string, number int) (Version, error) {
	v, err := scanVersion(s.q.QueryRowContext(ctx,
		`SELECT `+versionCols+` FROM resource_versions WHERE group_id=$1 AND version_number=$2`, groupID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, apperr.NotFound("resource version", Ref{GroupID: groupID, Version: number}.String())
	}
	return v, err
}

// History lists every version of a group, oldest first.
func (s *Store) History(ctx context.Context, groupID string) ([]Version, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+versionCols+` FROM resource_versions WHERE group_id=$1 ORDER BY version_number`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("resource", groupID)
	}
	return out, nil
}

// Create starts a new group at version 1.
func (s *Store) Create(ctx context.Context, d Draft, createdBy string) (Version, error) {
	if !d.Kind.Valid() {
		return Version{}, apperr.New(apperr.KindInvalidInput, "unknown resource kind %q", d.Kind)
	}
	if strings.TrimSpace(d.Title) == "" {
		return Version{}, apperr.New(apperr.KindInvalidInput, "title is required")
	}
	body, err := s.normalize(ctx, d.Kind, d.Content)
	if err != nil {
		return Version{}, err
	}
	v := Version{
		ID:        uuid.NewString(),
		GroupID:   uuid.NewString(),
		Kind:      d.Kind,
		Number:    1,
		IsCurrent: true,
		Lifecycle: Active,
		Title:     strings.TrimSpace(d.Title),
		Content:   body,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	return v, s.insert(ctx, v)
}

// NewVersion copies the current version, applies p, and makes the result
// current with number current+1. Callers run it inside a transaction so
// the flag flip and the insert land together.
func (s *Store) NewVersion(ctx context.Context, groupID string, p Patch, createdBy string) (Version, error) {
	cur, err := s.current(ctx, groupID, s.lock)
	if err != nil {
		return Version{}, err
	}

	next := cur
	next.ID = uuid.NewString()
	next.Number = cur.Number + 1
	next.CreatedBy = createdBy
	next.CreatedAt = s.now().UTC().Truncate(time.Second)
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return Version{}, apperr.New(apperr.KindInvalidInput, "title cannot be blank")
		}
		next.Title = strings.TrimSpace(*p.Title)
	}
	merged, err := mergeContent(cur.Content, p.Content)
	if err != nil {
		return Version{}, err
	}
	if next.Content, err = s.normalize(ctx, cur.Kind, merged); err != nil {
		return Version{}, err
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE resource_versions SET is_current=0 WHERE group_id=$1 AND version_number=$2 AND is_current=1`,
		groupID, cur.Number)
	if err != nil {
		return Version{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return Version{}, fmt.Errorf("content: %s was superseded concurrently", cur.Ref())
	}
	if err := s.insert(ctx, next); err != nil {
		return Version{}, err
	}
	return next, nil
}

// Delete soft-deletes a group if no task binding references any of its
// versions.
func (s *Store) Delete(ctx context.Context, groupID string) error {
	if _, err := s.Current(ctx, groupID); err != nil {
		return err
	}
	var refs int
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_bindings WHERE group_id=$1`, groupID).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return apperr.New(apperr.KindResourceInUse, "resource is bound to %d task(s)", refs).WithIDs(groupID)
	}
	_, err := s.q.ExecContext(ctx, `UPDATE resource_versions SET lifecycle=$1 WHERE group_id=$2`, string(Deleted), groupID)
	return err
}

// PinnedQuestions resolves every item of a test-set version to the question
// version it pinned.
func (s *Store) PinnedQuestions(ctx context.Context, testSet Version) ([]PinnedQuestion, error) {
	ts, err := testSet.TestSet()
	if err != nil {
		return nil, err
	}
	out := make([]PinnedQuestion, 0, len(ts.Items))
	for _, it := range ts.Items {
		qv, err := s.Version(ctx, it.QuestionGroupID, it.QuestionVersion)
		if err != nil {
			return nil, err
		}
		q, err := qv.Question()
		if err != nil {
			return nil, err
		}
		pts := q.Points
		if it.Points > 0 {
			pts = it.Points
		}
		out = append(out, PinnedQuestion{Ref: qv.Ref(), Question: q, Points: pts})
	}
	return out, nil
}

func (s *Store) insert(ctx context.Context, v Version) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO resource_versions (`+versionCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		v.ID, v.GroupID, string(v.Kind), v.Number, db.BoolInt(v.IsCurrent), string(v.Lifecycle), v.Title,
		string(v.Content), v.CreatedBy, v.CreatedAt.Unix())
	return err
}

// normalize validates raw content for kind and returns its canonical JSON.
// Test-set items without a version are pinned to the question's current
// version here.
func (s *Store) normalize(ctx context.Context, kind Kind, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "content is required")
	}
	var out any
	switch kind {
	case KindQuestion:
		var q Question
		if err := strictDecode(raw, &q); err != nil {
			return nil, err
		}
		if err := validateQuestion(q); err != nil {
			return nil, err
		}
		out = q
	case KindTestSet:
		var ts TestSet
		if err := strictDecode(raw, &ts); err != nil {
			return nil, err
		}
		if err := s.pinItems(ctx, &ts); err != nil {
			return nil, err
		}
		out = ts
	case KindKnowledge:
		var k Knowledge
		if err := strictDecode(raw, &k); err != nil {
			return nil, err
		}
		if strings.TrimSpace(k.Body) == "" && strings.TrimSpace(k.URL) == "" {
			return nil, apperr.New(apperr.KindInvalidInput, "knowledge document needs a body or a url")
		}
		out = k
	default:
		return nil, apperr.New(apperr.KindInvalidInput, "unknown resource kind %q", kind)
	}
	return json.Marshal(out)
}

func (s *Store) pinItems(ctx context.Context, ts *TestSet) error {
	if len(ts.Items) == 0 {
		return apperr.New(apperr.KindInvalidInput, "test set needs at least one question")
	}
	seen := map[string]bool{}
	for i := range ts.Items {
		it := &ts.Items[i]
		if seen[it.QuestionGroupID] {
			return apperr.New(apperr.KindInvalidInput, "question listed twice").WithIDs(it.QuestionGroupID)
		}
		seen[it.QuestionGroupID] = true

		var (
			qv  Version
			err error
		)
		if it.QuestionVersion == 0 {
			qv, err = s.Current(ctx, it.QuestionGroupID)
		} else {
			qv, err = s.Version(ctx, it.QuestionGroupID, it.QuestionVersion)
		}
		if err != nil {
			return err
		}
		if qv.Kind != KindQuestion {
			return apperr.New(apperr.KindInvalidInput, "test set item is a %s, not a question", qv.Kind).WithIDs(it.QuestionGroupID)
		}
		if it.Points < 0 {
			return apperr.New(apperr.KindInvalidInput, "negative points").WithIDs(it.QuestionGroupID)
		}
		it.QuestionVersion = qv.Number
	}
	return nil
}

func validateQuestion(q Question) error {
	if !q.Type.Valid() {
		return apperr.New(apperr.KindInvalidInput, "unknown question type %q", q.Type)
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return apperr.New(apperr.KindInvalidInput, "question prompt is required")
	}
	if q.Points <= 0 {
		return apperr.New(apperr.KindInvalidInput, "question points must be positive")
	}
	switch q.Type {
	case SingleChoice, MultipleChoice:
		if len(q.Choices) < 2 {
			return apperr.New(apperr.KindInvalidInput, "%s needs at least two choices", q.Type)
		}
		ids := map[string]bool{}
		for _, c := range q.Choices {
			if c.ID == "" || ids[c.ID] {
				return apperr.New(apperr.KindInvalidInput, "choice ids must be unique and non-empty")
			}
			ids[c.ID] = true
		}
		if len(q.AnswerKey) == 0 || (q.Type == SingleChoice && len(q.AnswerKey) != 1) {
			return apperr.New(apperr.KindInvalidInput, "%s has an invalid answer key", q.Type)
		}
		for _, k := range q.AnswerKey {
			if !ids[k] {
				return apperr.New(apperr.KindInvalidInput, "answer key %q is not a choice", k)
			}
		}
	case TrueFalse:
		if len(q.AnswerKey) != 1 || (q.AnswerKey[0] != "true" && q.AnswerKey[0] != "false") {
			return apperr.New(apperr.KindInvalidInput, "true_false answer key must be \"true\" or \"false\"")
		}
	}
	return nil
}

func strictDecode(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidInput, "bad content: %v", err)
	}
	return nil
}

// mergeContent overlays the top-level keys of patch onto base.
func mergeContent(base, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return base, nil
	}
	var b, p map[string]json.RawMessage
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, fmt.Errorf("content: stored content is not an object: %w", err)
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "content patch must be a JSON object")
	}
	if b == nil {
		b = map[string]json.RawMessage{}
	}
	for k, v := range p {
		b[k] = v
	}
	return json.Marshal(b)
}

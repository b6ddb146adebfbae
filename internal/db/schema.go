package db

import (
	"context"
	"fmt"
	"strings"
)

// Migrate applies the idempotent DDL. The script is portable between SQLite
// and Postgres: timestamps are unix seconds in BIGINT columns and flags are
// 0/1 INTEGER columns.
func Migrate(ctx context.Context, d *DB) error {
	if d == nil || d.SQL == nil {
		return fmt.Errorf("migrations: db is nil")
	}
	// Try the whole script first; fall back to one statement at a time for
	// drivers that reject multi-statement Exec.
	if _, err := d.SQL.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if _, e := d.SQL.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migrations: failed at:\n%s\nerr: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id             TEXT PRIMARY KEY,
  username       TEXT NOT NULL UNIQUE,
  password_hash  TEXT NOT NULL DEFAULT '',
  roles          TEXT NOT NULL,
  mentor_id      TEXT,
  department_id  TEXT,
  active         INTEGER NOT NULL DEFAULT 1,
  created_at     BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS users_mentor_idx ON users (mentor_id);
CREATE INDEX IF NOT EXISTS users_department_idx ON users (department_id);

CREATE TABLE IF NOT EXISTS resource_versions (
  id              TEXT PRIMARY KEY,
  group_id        TEXT NOT NULL,
  kind            TEXT NOT NULL,
  version_number  INTEGER NOT NULL,
  is_current      INTEGER NOT NULL DEFAULT 0,
  lifecycle       TEXT NOT NULL DEFAULT 'active',
  title           TEXT NOT NULL,
  content_json    TEXT NOT NULL,
  created_by      TEXT NOT NULL,
  created_at      BIGINT NOT NULL,
  UNIQUE (group_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS resource_versions_current_ux
  ON resource_versions (group_id) WHERE is_current = 1;

CREATE TABLE IF NOT EXISTS tasks (
  id            TEXT PRIMARY KEY,
  kind          TEXT NOT NULL,
  title         TEXT NOT NULL,
  creator_id    TEXT NOT NULL,
  deadline      BIGINT NOT NULL,
  start_time    BIGINT,
  duration_sec  BIGINT,
  pass_score    DOUBLE PRECISION,
  closed        INTEGER NOT NULL DEFAULT 0,
  closed_at     BIGINT,
  created_at    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_bindings (
  task_id         TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  group_id        TEXT NOT NULL,
  kind            TEXT NOT NULL,
  version_number  INTEGER NOT NULL,
  position        INTEGER NOT NULL,
  PRIMARY KEY (task_id, group_id),
  FOREIGN KEY (group_id, version_number) REFERENCES resource_versions (group_id, version_number)
);

CREATE INDEX IF NOT EXISTS task_bindings_group_idx ON task_bindings (group_id);

CREATE TABLE IF NOT EXISTS assignments (
  id            TEXT PRIMARY KEY,
  task_id       TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  student_id    TEXT NOT NULL,
  status        TEXT NOT NULL,
  completed_at  BIGINT,
  updated_at    BIGINT NOT NULL,
  UNIQUE (task_id, student_id)
);

CREATE INDEX IF NOT EXISTS assignments_student_idx ON assignments (student_id);

CREATE TABLE IF NOT EXISTS knowledge_progress (
  assignment_id       TEXT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  knowledge_group_id  TEXT NOT NULL,
  is_completed        INTEGER NOT NULL DEFAULT 0,
  completed_at        BIGINT,
  PRIMARY KEY (assignment_id, knowledge_group_id)
);

CREATE TABLE IF NOT EXISTS submissions (
  id              TEXT PRIMARY KEY,
  assignment_id   TEXT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  group_id        TEXT NOT NULL,
  version_number  INTEGER NOT NULL,
  attempt_number  INTEGER NOT NULL,
  status          TEXT NOT NULL,
  obtained_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
  started_at      BIGINT NOT NULL,
  submitted_at    BIGINT,
  graded_at       BIGINT,
  UNIQUE (assignment_id, group_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS answers (
  id                       TEXT PRIMARY KEY,
  submission_id            TEXT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
  question_group_id        TEXT NOT NULL,
  question_version_number  INTEGER NOT NULL,
  question_type            TEXT NOT NULL,
  max_score                DOUBLE PRECISION NOT NULL,
  position                 INTEGER NOT NULL,
  raw_response             TEXT,
  is_correct               INTEGER,
  obtained_score           DOUBLE PRECISION,
  comment                  TEXT NOT NULL DEFAULT '',
  graded_by                TEXT,
  graded_at                BIGINT,
  UNIQUE (submission_id, question_group_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  id          TEXT PRIMARY KEY,
  typ         TEXT NOT NULL,
  key         TEXT NOT NULL,
  data        TEXT NOT NULL,
  created_at  BIGINT NOT NULL
);
`

// splitSQL naively splits on ';' boundaries. Acceptable for plain DDL.
func splitSQL(s string) []string {
	raw := strings.Split(s, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part+";")
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

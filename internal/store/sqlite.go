package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/reddit-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analysis_context (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subreddits (
	name               TEXT PRIMARY KEY,
	subscribers        INTEGER NOT NULL DEFAULT 0,
	active_user_count  INTEGER NOT NULL DEFAULT 0,
	mention_count      INTEGER NOT NULL DEFAULT 0,
	avg_engagement     REAL NOT NULL DEFAULT 0,
	topic_relevance    REAL NOT NULL DEFAULT 0,
	score              REAL NOT NULL DEFAULT 0,
	public_description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sources (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	subreddit        TEXT NOT NULL,
	author           TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	permalink        TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL,
	engagement       INTEGER NOT NULL DEFAULT 0,
	created_utc      INTEGER NOT NULL DEFAULT 0,
	parent_source_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	aliases        TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS mentions (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL REFERENCES entities(id),
	source_id    TEXT NOT NULL REFERENCES sources(id),
	surface_form TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relationships (
	id                TEXT PRIMARY KEY,
	rel_type          TEXT NOT NULL,
	subject_entity_id TEXT NOT NULL REFERENCES entities(id),
	object_entity_id  TEXT NOT NULL REFERENCES entities(id),
	confidence        REAL NOT NULL DEFAULT 0,
	evidence          TEXT NOT NULL DEFAULT '',
	source_id         TEXT NOT NULL REFERENCES sources(id)
);

CREATE INDEX IF NOT EXISTS idx_sources_subreddit ON sources(subreddit);
CREATE INDEX IF NOT EXISTS idx_mentions_entity_id ON mentions(entity_id);
CREATE INDEX IF NOT EXISTS idx_mentions_source_id ON mentions(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_subject ON relationships(subject_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_object ON relationships(object_entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	// Children before parents to satisfy foreign keys.
	for _, table := range []string{
		"relationships", "mentions", "entities", "sources", "subreddits", "analysis_context",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}
	return nil
}

func (s *SQLiteStore) SetContext(ctx context.Context, ac model.AnalysisContext) error {
	data, err := json.Marshal(ac)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal context")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_context (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(data),
	)
	return eris.Wrap(err, "sqlite: set context")
}

func (s *SQLiteStore) GetContext(ctx context.Context) (*model.AnalysisContext, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM analysis_context WHERE id = 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get context")
	}
	var ac model.AnalysisContext
	if err := json.Unmarshal([]byte(data), &ac); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal context")
	}
	return &ac, nil
}

func (s *SQLiteStore) UpsertSubreddit(ctx context.Context, sub model.Subreddit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subreddits
		   (name, subscribers, active_user_count, mention_count, avg_engagement, topic_relevance, score, public_description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   subscribers = excluded.subscribers,
		   active_user_count = excluded.active_user_count,
		   mention_count = excluded.mention_count,
		   avg_engagement = excluded.avg_engagement,
		   topic_relevance = excluded.topic_relevance,
		   score = excluded.score,
		   public_description = excluded.public_description`,
		sub.Name, sub.Subscribers, sub.ActiveUserCount, sub.MentionCount,
		sub.AvgEngagement, sub.TopicRelevance, sub.Score, sub.PublicDescription,
	)
	return eris.Wrapf(err, "sqlite: upsert subreddit %s", sub.Name)
}

func (s *SQLiteStore) ListSubreddits(ctx context.Context) ([]model.Subreddit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, subscribers, active_user_count, mention_count, avg_engagement, topic_relevance, score, public_description
		 FROM subreddits
		 ORDER BY score DESC, mention_count DESC, name ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subreddits")
	}
	defer rows.Close()

	var subs []model.Subreddit
	for rows.Next() {
		var sub model.Subreddit
		if err := rows.Scan(
			&sub.Name, &sub.Subscribers, &sub.ActiveUserCount, &sub.MentionCount,
			&sub.AvgEngagement, &sub.TopicRelevance, &sub.Score, &sub.PublicDescription,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subreddit")
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list subreddits iterate")
}

func (s *SQLiteStore) AddSource(ctx context.Context, src model.Source) error {
	// Re-fetches of the same post or comment are no-ops.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources
		   (id, kind, subreddit, author, url, permalink, body, engagement, created_utc, parent_source_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Kind), src.Subreddit, src.Author, src.URL,
		src.Permalink, src.Text, src.Engagement, src.CreatedUTC, src.ParentSourceID,
	)
	return eris.Wrapf(err, "sqlite: insert source %s", src.ID)
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, subreddit, author, url, permalink, body, engagement, created_utc, parent_source_id
		 FROM sources
		 ORDER BY created_utc ASC, id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		var src model.Source
		var kind string
		if err := rows.Scan(
			&src.ID, &kind, &src.Subreddit, &src.Author, &src.URL,
			&src.Permalink, &src.Text, &src.Engagement, &src.CreatedUTC, &src.ParentSourceID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		src.Kind = model.SourceKind(kind)
		sources = append(sources, src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e model.Entity) error {
	aliases, err := json.Marshal(e.Aliases)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, canonical_name, entity_type, aliases) VALUES (?, ?, ?, ?)`,
		e.ID, e.CanonicalName, string(e.EntityType), string(aliases),
	)
	return eris.Wrapf(err, "sqlite: insert entity %s", e.ID)
}

func (s *SQLiteStore) MergeEntityAliases(ctx context.Context, entityID string, aliases []string) error {
	e, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	merged, err := json.Marshal(mergeAliasSets(e.Aliases, aliases))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET aliases = ? WHERE id = ?`,
		string(merged), entityID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: merge aliases %s", entityID)
	}
	return checkRowsAffected(res, "entity", entityID)
}

func (s *SQLiteStore) GetEntity(ctx context.Context, entityID string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, canonical_name, entity_type, aliases FROM entities WHERE id = ?`,
		entityID,
	)
	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", entityID)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, canonical_name, entity_type, aliases FROM entities ORDER BY canonical_name ASC, id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		entities = append(entities, *e)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) AddMention(ctx context.Context, m model.Mention) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mentions (id, entity_id, source_id, surface_form, snippet, confidence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.EntityID, m.SourceID, m.SurfaceForm, m.Snippet, m.Confidence,
	)
	return eris.Wrapf(err, "sqlite: insert mention %s", m.ID)
}

const mentionColumns = `id, entity_id, source_id, surface_form, snippet, confidence`

func (s *SQLiteStore) ListMentions(ctx context.Context) ([]model.Mention, error) {
	return s.queryMentions(ctx,
		`SELECT `+mentionColumns+` FROM mentions ORDER BY confidence DESC, id ASC`)
}

func (s *SQLiteStore) ListMentionsByEntity(ctx context.Context, entityID string) ([]model.Mention, error) {
	return s.queryMentions(ctx,
		`SELECT `+mentionColumns+` FROM mentions WHERE entity_id = ? ORDER BY confidence DESC, id ASC`,
		entityID)
}

func (s *SQLiteStore) queryMentions(ctx context.Context, query string, args ...any) ([]model.Mention, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mentions")
	}
	defer rows.Close()

	var mentions []model.Mention
	for rows.Next() {
		var m model.Mention
		if err := rows.Scan(&m.ID, &m.EntityID, &m.SourceID, &m.SurfaceForm, &m.Snippet, &m.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mention")
		}
		mentions = append(mentions, m)
	}
	return mentions, eris.Wrap(rows.Err(), "sqlite: list mentions iterate")
}

func (s *SQLiteStore) AddRelationship(ctx context.Context, r model.Relationship) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (id, rel_type, subject_entity_id, object_entity_id, confidence, evidence, source_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Type, r.SubjectEntityID, r.ObjectEntityID, r.Confidence, r.Evidence, r.SourceID,
	)
	return eris.Wrapf(err, "sqlite: insert relationship %s", r.ID)
}

func (s *SQLiteStore) ListRelationships(ctx context.Context) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rel_type, subject_entity_id, object_entity_id, confidence, evidence, source_id
		 FROM relationships
		 ORDER BY confidence DESC, id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list relationships")
	}
	defer rows.Close()

	var rels []model.Relationship
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(
			&r.ID, &r.Type, &r.SubjectEntityID, &r.ObjectEntityID,
			&r.Confidence, &r.Evidence, &r.SourceID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relationship")
		}
		rels = append(rels, r)
	}
	return rels, eris.Wrap(rows.Err(), "sqlite: list relationships iterate")
}

func (s *SQLiteStore) CountEntities(ctx context.Context) (int, error) {
	return s.count(ctx, "entities")
}

func (s *SQLiteStore) CountRelationships(ctx context.Context) (int, error) {
	return s.count(ctx, "relationships")
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count %s", table)
}

func scanEntity(scan func(...any) error) (*model.Entity, error) {
	var e model.Entity
	var entityType, aliases string
	if err := scan(&e.ID, &e.CanonicalName, &entityType, &aliases); err != nil {
		return nil, err
	}
	e.EntityType = model.EntityType(entityType)
	if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
		return nil, eris.Wrap(err, "unmarshal aliases")
	}
	return &e, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

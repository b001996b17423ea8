package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/reddit-intel/internal/db"
	"github.com/sells-group/reddit-intel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot insert path during the persisting phase.
var preparedStatements = map[string]string{
	"insert_source": `INSERT INTO sources
		(id, kind, subreddit, author, url, permalink, body, engagement, created_utc, parent_source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (id) DO NOTHING`,
	"insert_entity":       `INSERT INTO entities (id, canonical_name, entity_type, aliases) VALUES ($1, $2, $3, $4)`,
	"insert_mention":      `INSERT INTO mentions (id, entity_id, source_id, surface_form, snippet, confidence) VALUES ($1, $2, $3, $4, $5, $6)`,
	"insert_relationship": `INSERT INTO relationships (id, rel_type, subject_entity_id, object_entity_id, confidence, evidence, source_id) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_entity":          `SELECT id, canonical_name, entity_type, aliases FROM entities WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// newPostgresWithPool wires an existing pool, used by tests with pgxmock.
func newPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analysis_context (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS subreddits (
	name               TEXT PRIMARY KEY,
	subscribers        BIGINT NOT NULL DEFAULT 0,
	active_user_count  BIGINT NOT NULL DEFAULT 0,
	mention_count      INTEGER NOT NULL DEFAULT 0,
	avg_engagement     DOUBLE PRECISION NOT NULL DEFAULT 0,
	topic_relevance    DOUBLE PRECISION NOT NULL DEFAULT 0,
	score              DOUBLE PRECISION NOT NULL DEFAULT 0,
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
	engagement       BIGINT NOT NULL DEFAULT 0,
	created_utc      BIGINT NOT NULL DEFAULT 0,
	parent_source_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	aliases        JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS mentions (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL REFERENCES entities(id),
	source_id    TEXT NOT NULL REFERENCES sources(id),
	surface_form TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relationships (
	id                TEXT PRIMARY KEY,
	rel_type          TEXT NOT NULL,
	subject_entity_id TEXT NOT NULL REFERENCES entities(id),
	object_entity_id  TEXT NOT NULL REFERENCES entities(id),
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	evidence          TEXT NOT NULL DEFAULT '',
	source_id         TEXT NOT NULL REFERENCES sources(id)
);

CREATE INDEX IF NOT EXISTS idx_sources_subreddit ON sources(subreddit);
CREATE INDEX IF NOT EXISTS idx_mentions_entity_id ON mentions(entity_id);
CREATE INDEX IF NOT EXISTS idx_mentions_source_id ON mentions(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_subject ON relationships(subject_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_object ON relationships(object_entity_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	for _, table := range []string{
		"relationships", "mentions", "entities", "sources", "subreddits", "analysis_context",
	} {
		if _, err := s.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "postgres: clear %s", table)
		}
	}
	return nil
}

func (s *PostgresStore) SetContext(ctx context.Context, ac model.AnalysisContext) error {
	data, err := json.Marshal(ac)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal context")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_context (id, data) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data`,
		data,
	)
	return eris.Wrap(err, "postgres: set context")
}

func (s *PostgresStore) GetContext(ctx context.Context) (*model.AnalysisContext, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM analysis_context WHERE id = 1`,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get context")
	}
	var ac model.AnalysisContext
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal context")
	}
	return &ac, nil
}

func (s *PostgresStore) UpsertSubreddit(ctx context.Context, sub model.Subreddit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subreddits
		   (name, subscribers, active_user_count, mention_count, avg_engagement, topic_relevance, score, public_description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET
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
	return eris.Wrapf(err, "postgres: upsert subreddit %s", sub.Name)
}

func (s *PostgresStore) ListSubreddits(ctx context.Context) ([]model.Subreddit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, subscribers, active_user_count, mention_count, avg_engagement, topic_relevance, score, public_description
		 FROM subreddits
		 ORDER BY score DESC, mention_count DESC, name ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subreddits")
	}
	defer rows.Close()

	var subs []model.Subreddit
	for rows.Next() {
		var sub model.Subreddit
		if err := rows.Scan(
			&sub.Name, &sub.Subscribers, &sub.ActiveUserCount, &sub.MentionCount,
			&sub.AvgEngagement, &sub.TopicRelevance, &sub.Score, &sub.PublicDescription,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subreddit")
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list subreddits iterate")
}

func (s *PostgresStore) AddSource(ctx context.Context, src model.Source) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources
		   (id, kind, subreddit, author, url, permalink, body, engagement, created_utc, parent_source_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		src.ID, string(src.Kind), src.Subreddit, src.Author, src.URL,
		src.Permalink, src.Text, src.Engagement, src.CreatedUTC, src.ParentSourceID,
	)
	return eris.Wrapf(err, "postgres: insert source %s", src.ID)
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, subreddit, author, url, permalink, body, engagement, created_utc, parent_source_id
		 FROM sources
		 ORDER BY created_utc ASC, id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
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
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		src.Kind = model.SourceKind(kind)
		sources = append(sources, src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e model.Entity) error {
	aliases, err := json.Marshal(e.Aliases)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aliases")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, canonical_name, entity_type, aliases) VALUES ($1, $2, $3, $4)`,
		e.ID, e.CanonicalName, string(e.EntityType), aliases,
	)
	return eris.Wrapf(err, "postgres: insert entity %s", e.ID)
}

func (s *PostgresStore) MergeEntityAliases(ctx context.Context, entityID string, aliases []string) error {
	e, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	merged, err := json.Marshal(mergeAliasSets(e.Aliases, aliases))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aliases")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET aliases = $1 WHERE id = $2`,
		merged, entityID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: merge aliases %s", entityID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entity not found: %s", entityID)
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, entityID string) (*model.Entity, error) {
	var e model.Entity
	var entityType string
	var aliases []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, canonical_name, entity_type, aliases FROM entities WHERE id = $1`,
		entityID,
	).Scan(&e.ID, &e.CanonicalName, &entityType, &aliases)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", entityID)
	}

	e.EntityType = model.EntityType(entityType)
	if err := json.Unmarshal(aliases, &e.Aliases); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal aliases")
	}
	return &e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, canonical_name, entity_type, aliases FROM entities ORDER BY canonical_name ASC, id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		var entityType string
		var aliases []byte
		if err := rows.Scan(&e.ID, &e.CanonicalName, &entityType, &aliases); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e.EntityType = model.EntityType(entityType)
		if err := json.Unmarshal(aliases, &e.Aliases); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal aliases")
		}
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) AddMention(ctx context.Context, m model.Mention) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mentions (id, entity_id, source_id, surface_form, snippet, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.EntityID, m.SourceID, m.SurfaceForm, m.Snippet, m.Confidence,
	)
	return eris.Wrapf(err, "postgres: insert mention %s", m.ID)
}

func (s *PostgresStore) ListMentions(ctx context.Context) ([]model.Mention, error) {
	return s.queryMentions(ctx,
		`SELECT id, entity_id, source_id, surface_form, snippet, confidence
		 FROM mentions ORDER BY confidence DESC, id ASC`)
}

func (s *PostgresStore) ListMentionsByEntity(ctx context.Context, entityID string) ([]model.Mention, error) {
	return s.queryMentions(ctx,
		`SELECT id, entity_id, source_id, surface_form, snippet, confidence
		 FROM mentions WHERE entity_id = $1 ORDER BY confidence DESC, id ASC`,
		entityID)
}

func (s *PostgresStore) queryMentions(ctx context.Context, query string, args ...any) ([]model.Mention, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mentions")
	}
	defer rows.Close()

	var mentions []model.Mention
	for rows.Next() {
		var m model.Mention
		if err := rows.Scan(&m.ID, &m.EntityID, &m.SourceID, &m.SurfaceForm, &m.Snippet, &m.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		mentions = append(mentions, m)
	}
	return mentions, eris.Wrap(rows.Err(), "postgres: list mentions iterate")
}

func (s *PostgresStore) AddRelationship(ctx context.Context, r model.Relationship) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relationships (id, rel_type, subject_entity_id, object_entity_id, confidence, evidence, source_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Type, r.SubjectEntityID, r.ObjectEntityID, r.Confidence, r.Evidence, r.SourceID,
	)
	return eris.Wrapf(err, "postgres: insert relationship %s", r.ID)
}

func (s *PostgresStore) ListRelationships(ctx context.Context) ([]model.Relationship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rel_type, subject_entity_id, object_entity_id, confidence, evidence, source_id
		 FROM relationships
		 ORDER BY confidence DESC, id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list relationships")
	}
	defer rows.Close()

	var rels []model.Relationship
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(
			&r.ID, &r.Type, &r.SubjectEntityID, &r.ObjectEntityID,
			&r.Confidence, &r.Evidence, &r.SourceID,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan relationship")
		}
		rels = append(rels, r)
	}
	return rels, eris.Wrap(rows.Err(), "postgres: list relationships iterate")
}

func (s *PostgresStore) CountEntities(ctx context.Context) (int, error) {
	return s.count(ctx, "entities")
}

func (s *PostgresStore) CountRelationships(ctx context.Context) (int, error) {
	return s.count(ctx, "relationships")
}

func (s *PostgresStore) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count %s", table)
}

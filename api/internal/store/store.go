package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"             // sqlite driver

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/parse"
)

var ErrNotFound = errors.New("not found")

// Conversation is a multi-turn chat about one code snippet. ThreadRef is the remote
// thread id for engines that keep server-side state and is empty otherwise.
type Conversation struct {
	ID        string
	Engine    string
	Model     string
	ThreadRef string
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     []llm.Turn
}

// Analysis caches the model output for one summarized report.
type Analysis struct {
	ReportHash string
	Engine     string
	Model      string
	Summary    string
	Issues     parse.IssueList
	CreatedAt  time.Time
}

type ConversationStore interface {
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	// AppendTurns adds turns in order and replaces the thread ref when threadRef is not empty.
	AppendTurns(ctx context.Context, id, threadRef string, turns ...llm.Turn) error
	Delete(ctx context.Context, id string) error
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

type AnalysisStore interface {
	// FindByHash returns ErrNotFound when there is no entry or it is older than maxAge (if maxAge > 0).
	FindByHash(ctx context.Context, reportHash, engine, model string, maxAge time.Duration) (*Analysis, error)
	Upsert(ctx context.Context, a Analysis) error
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Conversations ConversationStore
	Analyses      AnalysisStore

	db      *sql.DB
	backend string
}

// Open connects to dsn: postgres:// URLs use pgx, "" and "memory" keep everything
// in process, anything else is a SQLite path (an optional sqlite:// prefix is stripped).
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(time.Hour)
		return newSQL(ctx, db, "postgres")
	default:
		db, err := sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		// sqlite allows a single writer; serialize on one connection
		db.SetMaxOpenConns(1)
		return newSQL(ctx, db, "sqlite")
	}
}

func newSQL(ctx context.Context, db *sql.DB, backend string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	q := &querier{DB: db, sqlite: backend == "sqlite"}
	if err := q.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		Conversations: newConversationRepo(q),
		Analyses:      newAnalysisRepo(q),
		db:            db,
		backend:       backend,
	}, nil
}

func NewMemory() *Store {
	return &Store{
		Conversations: NewMemoryConversations(),
		Analyses:      NewMemoryAnalyses(),
		backend:       "memory",
	}
}

func (s *Store) Backend() string { return s.backend }

// Ping checks the database connection; the memory backend is always healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Purge drops conversations idle for longer than olderThan and analyses created before it.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (conversations, analyses int64, err error) {
	conversations, err = s.Conversations.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return 0, 0, fmt.Errorf("purge conversations: %w", err)
	}
	analyses, err = s.Analyses.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return conversations, 0, fmt.Errorf("purge analyses: %w", err)
	}
	return conversations, analyses, nil
}

// SafeDSNSummary describes dsn for logs without credentials.
func SafeDSNSummary(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == "memory" {
		return "memory"
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "sqlite://"), "?")
		return "sqlite path=" + path
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}

// querier runs the repositories' Postgres-style queries on either backend.
type querier struct {
	*sql.DB
	sqlite bool
}

var rePlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebind turns $N placeholders into sqlite's ?N form.
func (q *querier) rebind(query string) string {
	if !q.sqlite {
		return query
	}
	return rePlaceholder.ReplaceAllString(query, "?$1")
}

var schema = []string{
	`create table if not exists conversations (
  id         text primary key,
  engine     text not null,
  model      text not null,
  thread_ref text not null default '',
  created_at bigint not null,
  updated_at bigint not null
)`,
	`create index if not exists conversations_updated_at on conversations (updated_at)`,
	`create table if not exists conversation_turns (
  conversation_id text not null,
  seq             integer not null,
  role            text not null,
  body            text not null,
  created_at      bigint not null,
  primary key (conversation_id, seq)
)`,
	`create table if not exists analyses (
  report_hash text not null,
  engine      text not null,
  model       text not null,
  summary     text not null,
  issues_json text not null,
  created_at  bigint not null,
  primary key (report_hash, engine, model)
)`,
	`create index if not exists analyses_created_at on analyses (created_at)`,
}

func (q *querier) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Timestamps are stored as unix milliseconds so both backends compare them the same way.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

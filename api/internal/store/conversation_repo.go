package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"code-mentor/api/internal/llm"
)

type ConversationRepo struct{ q *querier }

func newConversationRepo(q *querier) *ConversationRepo { return &ConversationRepo{q: q} }

// Create inserts the conversation with its initial turns. Zero timestamps are set to now.
func (r *ConversationRepo) Create(ctx context.Context, c *Conversation) error {
	ts := now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = ts
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	tx, err := r.q.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
insert into conversations (id, engine, model, thread_ref, created_at, updated_at)
values ($1,$2,$3,$4,$5,$6)`
	if _, err := tx.ExecContext(ctx, r.q.rebind(q),
		c.ID, c.Engine, c.Model, c.ThreadRef, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	); err != nil {
		return err
	}
	if err := r.insertTurns(ctx, tx, c.ID, 0, c.Turns, c.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ConversationRepo) Get(ctx context.Context, id string) (*Conversation, error) {
	const q = `
select id, engine, model, thread_ref, created_at, updated_at
from conversations
where id = $1`
	var (
		c                Conversation
		created, updated int64
	)
	err := r.q.QueryRowContext(ctx, r.q.rebind(q), id).
		Scan(&c.ID, &c.Engine, &c.Model, &c.ThreadRef, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)

	const qt = `select role, body from conversation_turns where conversation_id = $1 order by seq`
	rows, err := r.q.QueryContext(ctx, r.q.rebind(qt), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	c.Turns = []llm.Turn{}
	for rows.Next() {
		var role, body string
		if err := rows.Scan(&role, &body); err != nil {
			return nil, err
		}
		c.Turns = append(c.Turns, llm.Turn{Role: llm.Role(role), Text: body})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) AppendTurns(ctx context.Context, id, threadRef string, turns ...llm.Turn) error {
	ts := now()
	tx, err := r.q.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// the update takes the row (or database) lock before seq is read
	const q = `update conversations set updated_at = $2, thread_ref = coalesce(nullif($3, ''), thread_ref) where id = $1`
	res, err := tx.ExecContext(ctx, r.q.rebind(q), id, toMillis(ts), threadRef)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}

	var last int
	const qs = `select coalesce(max(seq), 0) from conversation_turns where conversation_id = $1`
	if err := tx.QueryRowContext(ctx, r.q.rebind(qs), id).Scan(&last); err != nil {
		return err
	}
	if err := r.insertTurns(ctx, tx, id, last, turns, ts); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ConversationRepo) insertTurns(ctx context.Context, tx *sql.Tx, id string, after int, turns []llm.Turn, ts time.Time) error {
	const q = `insert into conversation_turns (conversation_id, seq, role, body, created_at) values ($1,$2,$3,$4,$5)`
	for i, t := range turns {
		if _, err := tx.ExecContext(ctx, r.q.rebind(q), id, after+i+1, string(t.Role), t.Text, toMillis(ts)); err != nil {
			return err
		}
	}
	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.q.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, r.q.rebind(`delete from conversations where id = $1`), id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, r.q.rebind(`delete from conversation_turns where conversation_id = $1`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeOlderThan deletes conversations that have been idle for longer than olderThan.
func (r *ConversationRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := toMillis(time.Now().Add(-olderThan))

	tx, err := r.q.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const qt = `
delete from conversation_turns
where conversation_id in (select id from conversations where updated_at < $1)`
	if _, err := tx.ExecContext(ctx, r.q.rebind(qt), cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, r.q.rebind(`delete from conversations where updated_at < $1`), cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return aff, nil
}

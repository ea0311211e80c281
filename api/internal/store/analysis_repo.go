package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"code-mentor/api/internal/parse"
)

type AnalysisRepo struct{ q *querier }

func newAnalysisRepo(q *querier) *AnalysisRepo { return &AnalysisRepo{q: q} }

// FindByHash returns the cached analysis for (reportHash, engine, model).
// If maxAge > 0 an older entry counts as missing, so the caller asks the LLM again.
func (r *AnalysisRepo) FindByHash(ctx context.Context, reportHash, engine, model string, maxAge time.Duration) (*Analysis, error) {
	const q = `
select summary, issues_json, created_at
from analyses
where report_hash = $1 and engine = $2 and model = $3`
	var (
		summary string
		js      []byte
		ts      int64
	)
	err := r.q.QueryRowContext(ctx, r.q.rebind(q), reportHash, engine, model).Scan(&summary, &js, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	created := fromMillis(ts)
	if maxAge > 0 && time.Since(created) > maxAge {
		return nil, ErrNotFound
	}
	var issues parse.IssueList
	if err := json.Unmarshal(js, &issues); err != nil {
		// a broken cache row is treated as a miss
		return nil, ErrNotFound
	}
	if issues.Issues == nil {
		issues.Issues = []parse.Issue{}
	}
	return &Analysis{
		ReportHash: reportHash,
		Engine:     engine,
		Model:      model,
		Summary:    summary,
		Issues:     issues,
		CreatedAt:  created,
	}, nil
}

// Upsert stores the analysis. An existing row for the same key is overwritten and its age reset.
func (r *AnalysisRepo) Upsert(ctx context.Context, a Analysis) error {
	js, err := json.Marshal(a.Issues)
	if err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	const q = `
insert into analyses (report_hash, engine, model, summary, issues_json, created_at)
values ($1,$2,$3,$4,$5,$6)
on conflict (report_hash, engine, model) do update
set summary = excluded.summary,
    issues_json = excluded.issues_json,
    created_at = excluded.created_at`
	_, err = r.q.ExecContext(ctx, r.q.rebind(q),
		a.ReportHash, a.Engine, a.Model, a.Summary, string(js), toMillis(a.CreatedAt),
	)
	return err
}

// PurgeOlderThan deletes cache entries so the table does not grow without bound.
func (r *AnalysisRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := toMillis(time.Now().Add(-olderThan))
	res, err := r.q.ExecContext(ctx, r.q.rebind(`delete from analyses where created_at < $1`), cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

package mentor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/parse"
	"code-mentor/api/internal/prompt"
	"code-mentor/api/internal/sonar"
	"code-mentor/api/internal/store"
	"code-mentor/api/internal/util"
)

type ReportResult struct {
	Summary      string          `json:"summary"`
	ParsedIssues parse.IssueList `json:"parsed_issues"`
}

// AnalyzeReport reduces a SonarQube report to issue types and messages, has a
// retrieval-capable engine list the top issues and parses them. Results are cached
// per (summary hash, engine, model).
func (s *Service) AnalyzeReport(ctx context.Context, filename string, raw []byte, llmName string) (ReportResult, error) {
	if len(raw) == 0 {
		return ReportResult{}, invalid("no file uploaded")
	}
	summary, err := sonar.Summarize(raw)
	if err != nil {
		if errors.Is(err, sonar.ErrInvalidReport) {
			return ReportResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return ReportResult{}, err
	}
	encoded, err := summary.Encode()
	if err != nil {
		return ReportResult{}, fmt.Errorf("encode summary: %w", err)
	}

	eng, analyzer, err := s.engines.Analyzer(llmName)
	if err != nil {
		return ReportResult{}, selectionError(err)
	}
	log := zerolog.Ctx(ctx).With().Str("engine", eng.Name()).Str("model", eng.GetModel()).Logger()

	hash := util.SHA256Hex(encoded)
	if s.analyses != nil {
		cached, err := s.analyses.FindByHash(ctx, hash, eng.Name(), eng.GetModel(), s.opt.CacheMaxAge)
		switch {
		case err == nil:
			log.Info().Str("report_hash", hash).Msg("analysis served from cache")
			return ReportResult{Summary: cached.Summary, ParsedIssues: cached.Issues}, nil
		case !errors.Is(err, store.ErrNotFound):
			log.Warn().Err(err).Msg("analysis cache lookup failed")
		}
	}

	instructions, err := s.prompts.Render(prompt.SonarInstructions, nil)
	if err != nil {
		return ReportResult{}, err
	}
	p, err := s.prompts.Render(prompt.SonarAnalysis, prompt.SonarData{TopN: s.opt.TopIssues})
	if err != nil {
		return ReportResult{}, err
	}

	log.Info().Int("issues", len(summary.Issues)).Str("report_hash", hash).Msg("analyzing report")
	text, err := analyzer.AnalyzeReport(ctx, llm.ReportRequest{
		Filename:     sonar.SummaryName(filename),
		Content:      encoded,
		Instructions: instructions,
		Prompt:       p,
	})
	if err != nil {
		return ReportResult{}, fmt.Errorf("%s analyze report: %w", eng.Name(), err)
	}

	res := ReportResult{Summary: text, ParsedIssues: parse.Issues(text)}
	if s.analyses != nil {
		err := s.analyses.Upsert(ctx, store.Analysis{
			ReportHash: hash,
			Engine:     eng.Name(),
			Model:      eng.GetModel(),
			Summary:    res.Summary,
			Issues:     res.ParsedIssues,
		})
		if err != nil {
			log.Warn().Err(err).Msg("analysis cache write failed")
		}
	}
	return res, nil
}

package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go/v3"
	"github.com/rs/zerolog"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/poll"
)

const (
	vectorStoreName = "SonarQube Vector Store"
	assistantName   = "SonarQube Analysis Assistant"
)

// AnalyzeReport uploads the report, indexes it in a new vector store, creates a
// file_search assistant over it and runs the prompt on a fresh thread.
func (e *Engine) AnalyzeReport(ctx context.Context, in llm.ReportRequest) (string, error) {
	cl, err := e.client()
	if err != nil {
		return "", err
	}
	log := zerolog.Ctx(ctx)

	f, err := cl.Files.New(ctx, oai.FileNewParams{
		File:    oai.File(bytes.NewReader(in.Content), in.Filename, "application/json"),
		Purpose: oai.FilePurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("openai upload: %w", err)
	}
	log.Info().Str("file_id", f.ID).Msg("report uploaded")

	vs, err := cl.VectorStores.New(ctx, oai.VectorStoreNewParams{Name: oai.String(vectorStoreName)})
	if err != nil {
		return "", fmt.Errorf("openai vector store: %w", err)
	}
	if _, err := cl.VectorStores.Files.New(ctx, vs.ID, oai.VectorStoreFileNewParams{FileID: f.ID}); err != nil {
		return "", fmt.Errorf("openai vector store file: %w", err)
	}
	if err := e.waitIndexed(ctx, cl, vs.ID, f.ID); err != nil {
		return "", err
	}
	log.Info().Str("vector_store_id", vs.ID).Str("file_id", f.ID).Msg("report indexed")

	asst, err := cl.Beta.Assistants.New(ctx, oai.BetaAssistantNewParams{
		Model:        e.Model,
		Name:         oai.String(assistantName),
		Instructions: oai.String(in.Instructions),
		Tools: []oai.AssistantToolUnionParam{{
			OfFileSearch: &oai.FileSearchToolParam{},
		}},
		ToolResources: oai.BetaAssistantNewParamsToolResources{
			FileSearch: oai.BetaAssistantNewParamsToolResourcesFileSearch{
				VectorStoreIDs: []string{vs.ID},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai assistant: %w", err)
	}
	log.Info().Str("assistant_id", asst.ID).Msg("assistant created")

	th, err := cl.Beta.Threads.New(ctx, oai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("openai thread: %w", err)
	}
	return e.runOnThread(ctx, cl, th.ID, asst.ID, in.Prompt)
}

func (e *Engine) threadTurn(ctx context.Context, cl oai.Client, in llm.ChatRequest) (llm.ChatResult, error) {
	threadID := in.ThreadRef
	if threadID == "" {
		th, err := cl.Beta.Threads.New(ctx, oai.BetaThreadNewParams{})
		if err != nil {
			return llm.ChatResult{}, fmt.Errorf("openai thread: %w", err)
		}
		threadID = th.ID
	}
	reply, err := e.runOnThread(ctx, cl, threadID, e.AssistantID, in.Message)
	if err != nil {
		return llm.ChatResult{}, err
	}
	return llm.ChatResult{Reply: reply, ThreadRef: threadID}, nil
}

// runOnThread posts a user message, runs the assistant and returns its newest message.
func (e *Engine) runOnThread(ctx context.Context, cl oai.Client, threadID, assistantID, text string) (string, error) {
	_, err := cl.Beta.Threads.Messages.New(ctx, threadID, oai.BetaThreadMessageNewParams{
		Role:    oai.BetaThreadMessageNewParamsRoleUser,
		Content: oai.BetaThreadMessageNewParamsContentUnion{OfString: oai.String(text)},
	})
	if err != nil {
		return "", fmt.Errorf("openai message: %w", err)
	}

	run, err := cl.Beta.Threads.Runs.New(ctx, threadID, oai.BetaThreadRunNewParams{AssistantID: assistantID})
	if err != nil {
		return "", fmt.Errorf("openai run: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("thread_id", threadID).Str("run_id", run.ID).Msg("run started")

	if err := e.waitRun(ctx, cl, threadID, run.ID); err != nil {
		return "", err
	}
	return latestReply(ctx, cl, threadID)
}

func (e *Engine) waitRun(ctx context.Context, cl oai.Client, threadID, runID string) error {
	log := zerolog.Ctx(ctx)
	return poll.Until(ctx, e.poll, func(ctx context.Context) (bool, error) {
		run, err := cl.Beta.Threads.Runs.Get(ctx, threadID, runID)
		if err != nil {
			return false, fmt.Errorf("openai run status: %w", err)
		}
		switch run.Status {
		case oai.RunStatusCompleted:
			return true, nil
		case oai.RunStatusQueued, oai.RunStatusInProgress, oai.RunStatusCancelling:
			log.Debug().Str("run_id", runID).Str("status", string(run.Status)).Msg("waiting for completion")
			return false, nil
		default:
			reason := run.LastError.Message
			if reason == "" {
				reason = run.IncompleteDetails.Reason
			}
			return false, fmt.Errorf("%w: run %s is %s: %s", llm.ErrRunFailed, runID, run.Status, reason)
		}
	})
}

func (e *Engine) waitIndexed(ctx context.Context, cl oai.Client, vectorStoreID, fileID string) error {
	return poll.Until(ctx, e.poll, func(ctx context.Context) (bool, error) {
		vf, err := cl.VectorStores.Files.Get(ctx, vectorStoreID, fileID)
		if err != nil {
			return false, fmt.Errorf("openai vector store file status: %w", err)
		}
		switch vf.Status {
		case oai.VectorStoreFileStatusCompleted:
			return true, nil
		case oai.VectorStoreFileStatusInProgress:
			return false, nil
		default:
			return false, fmt.Errorf("%w: indexing %s is %s: %s", llm.ErrRunFailed, fileID, vf.Status, vf.LastError.Message)
		}
	})
}

func latestReply(ctx context.Context, cl oai.Client, threadID string) (string, error) {
	page, err := cl.Beta.Threads.Messages.List(ctx, threadID, oai.BetaThreadMessageListParams{
		Order: oai.BetaThreadMessageListParamsOrderDesc,
		Limit: oai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("openai messages: %w", err)
	}
	if len(page.Data) == 0 {
		return "", fmt.Errorf("openai messages: %w", llm.ErrEmptyResponse)
	}
	var b strings.Builder
	for _, c := range page.Data[0].Content {
		if c.Type != "text" || strings.TrimSpace(c.Text.Value) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c.Text.Value)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("openai messages: %w", llm.ErrEmptyResponse)
	}
	return out, nil
}

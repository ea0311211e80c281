package handle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"code-mentor/api/internal/mentor"
	"code-mentor/api/internal/parse"
	"code-mentor/api/internal/poll"
	"code-mentor/api/internal/prompt"
	"code-mentor/api/internal/store"
)

// Service is the application layer behind the endpoints. *mentor.Service implements it.
type Service interface {
	AnalyzeReport(ctx context.Context, filename string, raw []byte, llmName string) (mentor.ReportResult, error)
	ReviewCode(ctx context.Context, in mentor.CodeRequest) (parse.Review, error)
	StartConversation(ctx context.Context, in mentor.CodeRequest) (mentor.StartResult, error)
	SendMessage(ctx context.Context, conversationID, message string) (string, error)
	GenerateFlawed(ctx context.Context, in mentor.CodeRequest) (string, error)
	Judge(ctx context.Context, in mentor.JudgeRequest) (parse.Judgment, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handle struct {
	svc     Service
	db      Pinger
	prompts *prompt.Set
	timeout time.Duration

	// adminToken enables POST /prompts when set.
	adminToken string
}

type Options struct {
	Prompts    *prompt.Set
	DB         Pinger
	Timeout    time.Duration
	AdminToken string
}

func New(svc Service, opt Options) *Handle {
	if opt.Timeout <= 0 {
		opt.Timeout = 180 * time.Second
	}
	return &Handle{
		svc:        svc,
		db:         opt.DB,
		prompts:    opt.Prompts,
		timeout:    opt.Timeout,
		adminToken: opt.AdminToken,
	}
}

// Register mounts every endpoint on mux.
func (h *Handle) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/analyze_sonarqube", h.AnalyzeSonarQube)
	mux.HandleFunc("/review_code", h.ReviewCode)
	mux.HandleFunc("/start_chat", h.StartChat)
	mux.HandleFunc("/chat", h.Chat)
	mux.HandleFunc("/generate_flawed_code", h.GenerateFlawedCode)
	mux.HandleFunc("/judge_competition", h.JudgeCompetition)
	mux.HandleFunc("/prompts", h.UpdatePrompt)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return false
	}
	return true
}

// decode reads a JSON body of at most 4 MiB into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return false
	}
	return true
}

func (h *Handle) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

// fail maps err to a response. Caller mistakes keep their message; remote and
// storage failures are logged and answered with the fixed msg.
func (h *Handle) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, mentor.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, poll.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		hlog.FromRequest(r).Warn().Err(err).Msg(msg)
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for the model")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

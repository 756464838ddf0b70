package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_submit.go -package=mocks contextware/internal/service Completer,ContextRetriever,AssistantRunner

import (
	"context"
	"strings"

	"contextware/internal/assistant"
	"contextware/internal/contextutil"
	"contextware/internal/llm"
	"contextware/internal/retrieval"
	"contextware/internal/storage"
	"contextware/internal/vectorstore"
)

// Completer is the chat completion surface the submit service depends on.
// Defined from the service layer's perspective (consumer-first).
type Completer interface {
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (*llm.Reply, error)
	StreamChat(ctx context.Context, message string, callback func(chunk string) error) error
}

// ContextRetriever assembles retrieved context for a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, env *vectorstore.Env, query string) (*retrieval.Result, error)
}

// AssistantRunner executes one assistant run end to end.
type AssistantRunner interface {
	Run(ctx context.Context, params assistant.RunParams) (*assistant.RunResult, error)
}

// SubmitRequest is one augmented query: either a plain message or a prompt
// template filled from form fields.
type SubmitRequest struct {
	BotID   string
	ChatID  string
	Message string
	// Template and Fields build the message when Message is empty: each
	// {FIELD} placeholder is replaced by the matching field value.
	Template string
	Fields   map[string]string
	// EnvID selects the vector environment used for context retrieval.
	// Empty disables retrieval.
	EnvID string
	// AssistantID routes the query through an assistant run instead of a
	// direct completion.
	AssistantID string
	FileID      string
	FilePurpose string
	// Instructions are the system prompt (direct) or additional
	// instructions (assistant).
	Instructions string
	Model        string
	MaxTokens    int
	Temperature  float64
	UserID       string
	Session      string
}

// SubmitResponse is the reply to one submit.
type SubmitResponse struct {
	Reply    string
	ThreadID string
	Usage    *llm.Usage
}

// SubmitService answers queries, augmenting them with retrieved context and
// dispatching them to a direct completion or an assistant run.
type SubmitService struct {
	completer Completer
	retriever ContextRetriever
	runner    AssistantRunner
	logs      storage.LogStore
	envs      map[string]*vectorstore.Env
}

// NewSubmitService creates a SubmitService. runner may be nil when no
// assistants are configured; logs may be nil to disable usage accounting.
func NewSubmitService(completer Completer, retriever ContextRetriever, runner AssistantRunner, logs storage.LogStore, envs []*vectorstore.Env) *SubmitService {
	byID := make(map[string]*vectorstore.Env, len(envs))
	for _, env := range envs {
		byID[env.ID] = env
	}
	return &SubmitService{
		completer: completer,
		retriever: retriever,
		runner:    runner,
		logs:      logs,
		envs:      byID,
	}
}

// BuildMessage resolves the effective message of a request: the literal
// message, or the template with its {FIELD} placeholders filled in a single
// pass so field values containing placeholder tokens stay literal.
func BuildMessage(req *SubmitRequest) string {
	if req.Message != "" {
		return req.Message
	}
	if req.Template == "" {
		return ""
	}
	pairs := make([]string, 0, len(req.Fields)*2)
	for name, value := range req.Fields {
		pairs = append(pairs, "{"+strings.ToUpper(name)+"}", value)
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(req.Template))
}

// Submit answers one query.
func (s *SubmitService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	message := BuildMessage(&req)
	if message == "" {
		return nil, &ValidationError{Field: "message", Message: "cannot be empty"}
	}

	augmented, err := s.retrieveContext(ctx, &req, message)
	if err != nil {
		// Retrieval is an enhancement; answer without it rather than fail.
		logger.ErrorContext(ctx, "context retrieval failed", "env", req.EnvID, "error", err)
		augmented = ""
	}

	var res *SubmitResponse
	if req.AssistantID != "" {
		res, err = s.runAssistant(ctx, &req, message, augmented)
	} else {
		res, err = s.complete(ctx, &req, message, augmented)
	}
	if err != nil {
		return nil, err
	}

	s.logUsage(ctx, &req, message, res)
	return res, nil
}

// StreamSubmit answers one query as a stream of chunks. Assistant runs do
// not stream; requests naming an assistant fall back to Submit semantics at
// the handler.
func (s *SubmitService) StreamSubmit(ctx context.Context, req SubmitRequest, callback func(chunk string) error) error {
	logger := contextutil.LoggerFromContext(ctx)

	message := BuildMessage(&req)
	if message == "" {
		return &ValidationError{Field: "message", Message: "cannot be empty"}
	}

	augmented, err := s.retrieveContext(ctx, &req, message)
	if err != nil {
		logger.ErrorContext(ctx, "context retrieval failed", "env", req.EnvID, "error", err)
		augmented = ""
	}

	prompt := message
	if augmented != "" {
		prompt = "Additional context:\n" + augmented + "\n\n" + message
	}
	if err := s.completer.StreamChat(ctx, prompt, callback); err != nil {
		logger.ErrorContext(ctx, "failed to stream reply", "error", err)
		return WrapError(err, "failed to stream reply")
	}
	return nil
}

// retrieveContext runs retrieval for the request's environment, returning
// the context block or empty when retrieval is disabled or found nothing.
func (s *SubmitService) retrieveContext(ctx context.Context, req *SubmitRequest, message string) (string, error) {
	if req.EnvID == "" || s.retriever == nil {
		return "", nil
	}
	env, ok := s.envs[req.EnvID]
	if !ok {
		return "", &ValidationError{Field: "envId", Message: "unknown environment " + req.EnvID}
	}
	result, err := s.retriever.Retrieve(ctx, env, message)
	if err != nil {
		return "", err
	}
	return result.Context, nil
}

func (s *SubmitService) runAssistant(ctx context.Context, req *SubmitRequest, message, augmented string) (*SubmitResponse, error) {
	if s.runner == nil {
		return nil, &ValidationError{Field: "assistantId", Message: "no assistants are configured"}
	}
	result, err := s.runner.Run(ctx, assistant.RunParams{
		AssistantID:  req.AssistantID,
		BotID:        req.BotID,
		ChatID:       req.ChatID,
		Message:      message,
		FileID:       req.FileID,
		FilePurpose:  req.FilePurpose,
		Instructions: req.Instructions,
		Context:      augmented,
	})
	if err != nil {
		return nil, WrapError(err, "assistant run failed")
	}
	return &SubmitResponse{Reply: result.Reply, ThreadID: result.ThreadID, Usage: result.Usage}, nil
}

func (s *SubmitService) complete(ctx context.Context, req *SubmitRequest, message, augmented string) (*SubmitResponse, error) {
	var messages []llm.Message
	system := req.Instructions
	if augmented != "" {
		if system != "" {
			system += "\n"
		}
		system += "Additional context:\n" + augmented
	}
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: message})

	reply, err := s.completer.ChatWithMessages(ctx, messages, llm.ChatParams{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, WrapError(err, "failed to get reply")
	}
	usage := reply.Usage
	return &SubmitResponse{Reply: reply.Text, Usage: &usage}, nil
}

// logUsage records token accounting for one answered query. Logging is best
// effort; a failed write never fails the reply.
func (s *SubmitService) logUsage(ctx context.Context, req *SubmitRequest, message string, res *SubmitResponse) {
	if s.logs == nil || res.Usage == nil {
		return
	}
	logger := contextutil.LoggerFromContext(ctx)
	mode := "query"
	if req.AssistantID != "" {
		mode = "assistant"
	}
	id, err := s.logs.Add(ctx, &storage.LogEntry{
		UserID:  req.UserID,
		Session: req.Session,
		Model:   req.Model,
		Mode:    mode,
		Units:   res.Usage.TotalTokens,
		Type:    "tokens",
		Scope:   "submit",
		EnvID:   req.EnvID,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to log usage", "error", err)
		return
	}
	if err := s.logs.AddMeta(ctx, id, "query", message); err != nil {
		logger.ErrorContext(ctx, "failed to log query meta", "error", err)
	}
	if err := s.logs.AddMeta(ctx, id, "reply", res.Reply); err != nil {
		logger.ErrorContext(ctx, "failed to log reply meta", "error", err)
	}
}

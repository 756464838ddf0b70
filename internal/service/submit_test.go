package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"contextware/internal/assistant"
	"contextware/internal/llm"
	"contextware/internal/retrieval"
	"contextware/internal/storage"
	"contextware/internal/vectorstore"
)

type fakeCompleter struct {
	gotMessages []llm.Message
	gotParams   llm.ChatParams
	reply       *llm.Reply
	err         error
}

func (f *fakeCompleter) ChatWithMessages(_ context.Context, messages []llm.Message, params llm.ChatParams) (*llm.Reply, error) {
	f.gotMessages = messages
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) StreamChat(_ context.Context, message string, callback func(string) error) error {
	if f.err != nil {
		return f.err
	}
	f.gotMessages = []llm.Message{{Role: "user", Content: message}}
	return callback(f.reply.Text)
}

type fakeRetriever struct {
	result *retrieval.Result
	err    error
	query  string
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ *vectorstore.Env, query string) (*retrieval.Result, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRunner struct {
	gotParams assistant.RunParams
	result    *assistant.RunResult
	err       error
}

func (f *fakeRunner) Run(_ context.Context, params assistant.RunParams) (*assistant.RunResult, error) {
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var testEnvs = []*vectorstore.Env{{ID: "env-1", Type: "qdrant", Server: "http://x"}}

func TestBuildMessage(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
		want string
	}{
		{
			name: "literal message wins",
			req:  SubmitRequest{Message: "hello", Template: "{NAME}"},
			want: "hello",
		},
		{
			name: "template substitution",
			req: SubmitRequest{
				Template: "Name: {NAME}, Topic: {TOPIC}",
				Fields:   map[string]string{"name": "Ada", "topic": "math"},
			},
			want: "Name: Ada, Topic: math",
		},
		{
			name: "field value containing a placeholder stays literal",
			req: SubmitRequest{
				Template: "{A} {B}",
				Fields:   map[string]string{"a": "{B}", "b": "two"},
			},
			want: "{B} two",
		},
		{
			name: "empty",
			req:  SubmitRequest{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildMessage(&tt.req)
			if got != tt.want {
				t.Errorf("BuildMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubmitService_DirectCompletion(t *testing.T) {
	completer := &fakeCompleter{reply: &llm.Reply{Text: "Answer.", Usage: llm.Usage{TotalTokens: 7}}}
	retriever := &fakeRetriever{result: &retrieval.Result{Context: "Fact one.\n\nFact two."}}
	s := NewSubmitService(completer, retriever, nil, nil, testEnvs)

	resp, err := s.Submit(context.Background(), SubmitRequest{
		Message: "What?", EnvID: "env-1", Instructions: "Be terse.",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Reply != "Answer." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if len(completer.gotMessages) != 2 {
		t.Fatalf("messages = %+v", completer.gotMessages)
	}
	system := completer.gotMessages[0]
	if system.Role != "system" || !strings.Contains(system.Content, "Additional context:\nFact one.") {
		t.Errorf("system message = %+v", system)
	}
	if !strings.HasPrefix(system.Content, "Be terse.") {
		t.Errorf("instructions dropped: %q", system.Content)
	}
	if completer.gotMessages[1].Content != "What?" {
		t.Errorf("user message = %+v", completer.gotMessages[1])
	}
}

func TestSubmitService_RetrievalFailureDegrades(t *testing.T) {
	completer := &fakeCompleter{reply: &llm.Reply{Text: "Answer."}}
	retriever := &fakeRetriever{err: errors.New("backend down")}
	s := NewSubmitService(completer, retriever, nil, nil, testEnvs)

	resp, err := s.Submit(context.Background(), SubmitRequest{Message: "What?", EnvID: "env-1"})
	if err != nil {
		t.Fatalf("Submit() error = %v, want degraded answer", err)
	}
	if resp.Reply != "Answer." {
		t.Errorf("reply = %q", resp.Reply)
	}
	// No context means no system message.
	if len(completer.gotMessages) != 1 {
		t.Errorf("messages = %+v", completer.gotMessages)
	}
}

func TestSubmitService_AssistantDispatch(t *testing.T) {
	runner := &fakeRunner{result: &assistant.RunResult{Reply: "Done.", ThreadID: "thread-9"}}
	retriever := &fakeRetriever{result: &retrieval.Result{Context: "Fact."}}
	s := NewSubmitService(&fakeCompleter{}, retriever, runner, nil, testEnvs)

	resp, err := s.Submit(context.Background(), SubmitRequest{
		Message: "Q", EnvID: "env-1", AssistantID: "asst-1", BotID: "bot-1", ChatID: "chat-1",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Reply != "Done." || resp.ThreadID != "thread-9" {
		t.Errorf("resp = %+v", resp)
	}
	if runner.gotParams.Context != "Fact." || runner.gotParams.AssistantID != "asst-1" {
		t.Errorf("run params = %+v", runner.gotParams)
	}
}

func TestSubmitService_Validation(t *testing.T) {
	s := NewSubmitService(&fakeCompleter{}, nil, nil, nil, testEnvs)

	_, err := s.Submit(context.Background(), SubmitRequest{})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("Submit(empty) error = %v, want ValidationError", err)
	}

	_, err = s.Submit(context.Background(), SubmitRequest{Message: "hi", AssistantID: "a"})
	if !errors.As(err, &validationErr) {
		t.Errorf("Submit(no runner) error = %v, want ValidationError", err)
	}
}

func TestSubmitService_UsageLogging(t *testing.T) {
	db, err := storage.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	logs := storage.NewLogRepo(db)

	completer := &fakeCompleter{reply: &llm.Reply{Text: "Answer.", Usage: llm.Usage{TotalTokens: 42}}}
	s := NewSubmitService(completer, nil, nil, logs, testEnvs)

	_, err = s.Submit(context.Background(), SubmitRequest{Message: "What?", UserID: "u1", Model: "m"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	query, err := logs.GetMeta(context.Background(), 1, "query")
	if err != nil {
		t.Fatalf("GetMeta() error = %v", err)
	}
	if query != "What?" {
		t.Errorf("logged query = %q", query)
	}
	reply, _ := logs.GetMeta(context.Background(), 1, "reply")
	if reply != "Answer." {
		t.Errorf("logged reply = %q", reply)
	}
}

func TestSubmitService_StreamSubmit(t *testing.T) {
	completer := &fakeCompleter{reply: &llm.Reply{Text: "chunk"}}
	retriever := &fakeRetriever{result: &retrieval.Result{Context: "Fact."}}
	s := NewSubmitService(completer, retriever, nil, nil, testEnvs)

	var got []string
	err := s.StreamSubmit(context.Background(), SubmitRequest{Message: "Q", EnvID: "env-1"}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamSubmit() error = %v", err)
	}
	if len(got) != 1 || got[0] != "chunk" {
		t.Errorf("chunks = %v", got)
	}
	// Retrieved context is folded into the streamed prompt.
	if !strings.Contains(completer.gotMessages[0].Content, "Additional context:\nFact.") {
		t.Errorf("prompt = %q", completer.gotMessages[0].Content)
	}
}

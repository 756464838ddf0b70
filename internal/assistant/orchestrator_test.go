package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"contextware/internal/llm"
)

type fakeAPI struct {
	threads      int
	statuses     []string // consumed by successive GetRun calls
	statusIdx    int
	toolCalls    []llm.ToolCall
	submitted    []llm.ToolOutput
	messages     []llm.ThreadMessage
	files        map[string][]byte
	run          *llm.Run
	instructions string
	postedFiles  []string
}

func (f *fakeAPI) CreateThread(_ context.Context, _ map[string]string) (string, error) {
	f.threads++
	return fmt.Sprintf("thread-%d", f.threads), nil
}

func (f *fakeAPI) CreateMessage(_ context.Context, _, _ string, fileIDs []string) (string, error) {
	f.postedFiles = append(f.postedFiles, fileIDs...)
	return "msg-1", nil
}

func (f *fakeAPI) CreateRun(_ context.Context, _, _, additionalInstructions string) (string, error) {
	f.instructions = additionalInstructions
	return "run-1", nil
}

func (f *fakeAPI) GetRun(_ context.Context, _, _ string) (*llm.Run, error) {
	status := f.statuses[len(f.statuses)-1]
	if f.statusIdx < len(f.statuses) {
		status = f.statuses[f.statusIdx]
		f.statusIdx++
	}
	run := &llm.Run{ID: "run-1", Status: status}
	if status == "requires_action" {
		run.RequiredAction = &llm.RequiredAction{Type: "submit_tool_outputs"}
		run.RequiredAction.SubmitToolOutputs.ToolCalls = f.toolCalls
	}
	if f.run != nil {
		run.Usage = f.run.Usage
		run.LastError = f.run.LastError
	}
	return run, nil
}

func (f *fakeAPI) SubmitToolOutputs(_ context.Context, _, _ string, outputs []llm.ToolOutput) error {
	f.submitted = append(f.submitted, outputs...)
	return nil
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string) ([]llm.ThreadMessage, error) {
	return f.messages, nil
}

func (f *fakeAPI) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return data, nil
}

type fakeDiscussions struct {
	threads map[string]string
}

func (f *fakeDiscussions) GetThreadID(_ context.Context, botID, chatID string) (string, error) {
	return f.threads[botID+"/"+chatID], nil
}

func (f *fakeDiscussions) SaveThreadID(_ context.Context, botID, chatID, threadID string) error {
	if f.threads == nil {
		f.threads = map[string]string{}
	}
	f.threads[botID+"/"+chatID] = threadID
	return nil
}

type fakeFiles struct {
	saved map[string][]byte
	metas map[string]FileMeta
	known map[string]string // assistant/thread/name -> url of earlier turns
}

func (f *fakeFiles) Save(_ context.Context, name string, data []byte, meta FileMeta) (string, error) {
	if f.saved == nil {
		f.saved = map[string][]byte{}
		f.metas = map[string]FileMeta{}
	}
	f.saved[name] = data
	f.metas[name] = meta
	return "https://files.test/" + name, nil
}

func (f *fakeFiles) Search(_ context.Context, meta FileMeta) (string, error) {
	return f.known[meta.AssistantID+"/"+meta.ThreadID+"/"+meta.Name], nil
}

type fakeDispatcher struct {
	outputs map[string]string
	err     error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, name, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.outputs[name], nil
}

func textMessage(value string, annotations ...llm.Annotation) llm.ThreadMessage {
	return llm.ThreadMessage{
		ID:   "msg-1",
		Role: "assistant",
		Content: []llm.ContentBlock{
			{Type: "text", Text: &llm.TextBlock{Value: value, Annotations: annotations}},
		},
	}
}

func newTestOrchestrator(api *fakeAPI, dispatcher FunctionDispatcher) (*Orchestrator, *fakeDiscussions, *fakeFiles) {
	discussions := &fakeDiscussions{}
	files := &fakeFiles{}
	o := New(api, discussions, files, dispatcher, Options{MaxWait: time.Minute})
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o, discussions, files
}

func TestOrchestrator_Run(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"queued", "in_progress", "completed"},
		messages: []llm.ThreadMessage{textMessage("The answer.")},
	}
	o, discussions, _ := newTestOrchestrator(api, nil)

	result, err := o.Run(context.Background(), RunParams{
		AssistantID: "asst-1", BotID: "bot-1", ChatID: "chat-1", Message: "Question?",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply != "The answer." {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.ThreadID != "thread-1" {
		t.Errorf("thread = %q", result.ThreadID)
	}
	if discussions.threads["bot-1/chat-1"] != "thread-1" {
		t.Error("thread id not recorded for reuse")
	}
}

func TestOrchestrator_ThreadReuse(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"completed"},
		messages: []llm.ThreadMessage{textMessage("ok")},
	}
	o, discussions, _ := newTestOrchestrator(api, nil)
	_ = discussions.SaveThreadID(context.Background(), "bot-1", "chat-1", "thread-existing")

	result, err := o.Run(context.Background(), RunParams{
		AssistantID: "asst-1", BotID: "bot-1", ChatID: "chat-1", Message: "Again?",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ThreadID != "thread-existing" {
		t.Errorf("thread = %q, want reuse of thread-existing", result.ThreadID)
	}
	if api.threads != 0 {
		t.Errorf("created %d threads, want 0", api.threads)
	}
}

func TestOrchestrator_ContextInstructions(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"completed"},
		messages: []llm.ThreadMessage{textMessage("ok")},
	}
	o, _, _ := newTestOrchestrator(api, nil)

	_, err := o.Run(context.Background(), RunParams{
		AssistantID: "asst-1", ChatID: "c", Message: "Q",
		Instructions: "Be terse.", Context: "Fact one.",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := "Be terse.\nAdditional context:\nFact one."
	if api.instructions != want {
		t.Errorf("instructions = %q, want %q", api.instructions, want)
	}
}

func TestOrchestrator_ToolRoundTrip(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"in_progress", "requires_action", "completed"},
		toolCalls: []llm.ToolCall{
			func() llm.ToolCall {
				var call llm.ToolCall
				call.ID = "call-1"
				call.Type = "function"
				call.Function.Name = "lookup"
				call.Function.Arguments = `{"q":"x"}`
				return call
			}(),
		},
		messages: []llm.ThreadMessage{textMessage("Found it.")},
	}
	dispatcher := &fakeDispatcher{outputs: map[string]string{"lookup": "result-value"}}
	o, _, _ := newTestOrchestrator(api, dispatcher)

	result, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply != "Found it." {
		t.Errorf("reply = %q", result.Reply)
	}
	if len(api.submitted) != 1 || api.submitted[0].ToolCallID != "call-1" || api.submitted[0].Output != "result-value" {
		t.Errorf("submitted outputs = %+v", api.submitted)
	}
}

func TestOrchestrator_ToolFailureBecomesOutput(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"requires_action", "completed"},
		toolCalls: []llm.ToolCall{
			func() llm.ToolCall {
				var call llm.ToolCall
				call.ID = "call-1"
				call.Function.Name = "broken"
				return call
			}(),
		},
		messages: []llm.ThreadMessage{textMessage("Handled.")},
	}
	o, _, _ := newTestOrchestrator(api, &fakeDispatcher{err: errors.New("no such function")})

	if _, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(api.submitted) != 1 || !strings.Contains(api.submitted[0].Output, "no such function") {
		t.Errorf("submitted = %+v, want error carried as output", api.submitted)
	}
}

func TestOrchestrator_UnhandledFunctionFailsRun(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"requires_action", "completed"},
		toolCalls: []llm.ToolCall{
			func() llm.ToolCall {
				var call llm.ToolCall
				call.ID = "call-1"
				call.Function.Name = "mystery"
				return call
			}(),
		},
		messages: []llm.ThreadMessage{textMessage("Never reached.")},
	}
	o, _, _ := newTestOrchestrator(api, &fakeDispatcher{err: ErrUnhandled})

	_, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("Run() error = %v, want unhandled function error naming the function", err)
	}
	if len(api.submitted) != 0 {
		t.Errorf("submitted = %+v, want no outputs", api.submitted)
	}
}

func TestOrchestrator_RunningStatusKeepsPolling(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"queued", "running", "completed"},
		messages: []llm.ThreadMessage{textMessage("Done.")},
	}
	o, _, _ := newTestOrchestrator(api, nil)

	result, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply != "Done." {
		t.Errorf("reply = %q", result.Reply)
	}
}

func TestOrchestrator_TimedOut(t *testing.T) {
	api := &fakeAPI{statuses: []string{"in_progress"}}
	o, _, _ := newTestOrchestrator(api, nil)
	o.opts.MaxWait = -time.Second // deadline already passed

	_, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("Run() error = %v, want ErrTimedOut", err)
	}
}

func TestOrchestrator_FailedRun(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"failed"},
		run:      &llm.Run{LastError: &llm.RunError{Code: "rate_limit", Message: "slow down"}},
	}
	o, _, _ := newTestOrchestrator(api, nil)

	_, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Errorf("Run() error = %v, want failure detail", err)
	}
}

func TestOrchestrator_EmptyReplyFails(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"completed"},
		messages: []llm.ThreadMessage{textMessage("【3:0†source】")},
	}
	o, _, _ := newTestOrchestrator(api, nil)

	if _, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"}); err == nil {
		t.Error("Run() expected error for empty reply")
	}
}

func TestOrchestrator_FileValidation(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeAPI{statuses: []string{"completed"}}, nil)

	_, err := o.Run(context.Background(), RunParams{
		AssistantID: "a", ChatID: "c", Message: "Q",
		FileID: "file-1", FilePurpose: "vision",
	})
	if err == nil || !strings.Contains(err.Error(), FilePurpose) {
		t.Errorf("Run() error = %v, want purpose rejection", err)
	}
}

func TestOrchestrator_ExtractsFiles(t *testing.T) {
	annotation := llm.Annotation{Type: "file_path", Text: "sandbox:/mnt/data/report.csv"}
	annotation.FilePath.FileID = "file-csv"

	api := &fakeAPI{
		statuses: []string{"completed"},
		files: map[string][]byte{
			"file-csv": []byte("a,b\n1,2"),
			"file-img": []byte("png-bytes"),
		},
		messages: []llm.ThreadMessage{
			{
				ID:   "msg-1",
				Role: "assistant",
				Content: []llm.ContentBlock{
					{Type: "image_file", ImageFile: &llm.ImageFileBlock{FileID: "file-img", FilePath: "chart.png"}},
					{Type: "text", Text: &llm.TextBlock{
						Value:       "Download sandbox:/mnt/data/report.csv and also see sandbox:/mnt/data/report.csv later. 【1†src】",
						Annotations: []llm.Annotation{annotation},
					}},
				},
			},
		},
	}
	o, _, files := newTestOrchestrator(api, nil)

	result, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Reply, "![Image](https://files.test/chart.png)") {
		t.Errorf("reply missing image link: %q", result.Reply)
	}
	if strings.Contains(result.Reply, "sandbox:/mnt/data") {
		t.Errorf("reply still contains sandbox path: %q", result.Reply)
	}
	if strings.Count(result.Reply, "https://files.test/report.csv") != 2 {
		t.Errorf("reply = %q, want both occurrences rewritten", result.Reply)
	}
	if strings.Contains(result.Reply, "【") {
		t.Errorf("citation junk left in reply: %q", result.Reply)
	}
	if string(files.saved["report.csv"]) != "a,b\n1,2" {
		t.Error("csv not stored")
	}
	if string(files.saved["chart.png"]) != "png-bytes" {
		t.Error("image not stored")
	}
	meta := files.metas["report.csv"]
	if meta.AssistantID != "a" || meta.ThreadID != "thread-1" || meta.Name != "report.csv" {
		t.Errorf("stored meta = %+v, want run metadata recorded", meta)
	}
}

func TestOrchestrator_ResolvesFilesFromEarlierTurns(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"completed"},
		messages: []llm.ThreadMessage{
			textMessage("The file is still at sandbox:/mnt/data/old.csv if you need it."),
		},
	}
	o, _, files := newTestOrchestrator(api, nil)
	files.known = map[string]string{"a/thread-1/old.csv": "https://files.test/stored-old.csv"}

	result, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(result.Reply, "sandbox:") {
		t.Errorf("reply still contains sandbox path: %q", result.Reply)
	}
	if !strings.Contains(result.Reply, "https://files.test/stored-old.csv") {
		t.Errorf("reply = %q, want earlier-turn file link resolved", result.Reply)
	}
}

func TestOrchestrator_ReplyFromNewestMessageOnly(t *testing.T) {
	api := &fakeAPI{
		statuses: []string{"completed"},
		messages: []llm.ThreadMessage{
			textMessage("Latest answer."),
			textMessage("Earlier answer."),
		},
	}
	o, _, _ := newTestOrchestrator(api, nil)

	result, err := o.Run(context.Background(), RunParams{AssistantID: "a", ChatID: "c", Message: "Q"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply != "Latest answer." {
		t.Errorf("reply = %q, want only the newest message", result.Reply)
	}
}

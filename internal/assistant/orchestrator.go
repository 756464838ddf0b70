package assistant

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_assistant.go -package=mocks contextware/internal/assistant API,FileStore,FunctionDispatcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"contextware/internal/contextutil"
	"contextware/internal/llm"
	"contextware/internal/storage"
)

// FilePurpose is the only upload purpose accepted on an assistant message.
const FilePurpose = "assistant-in"

// ErrTimedOut is returned when a run does not reach a terminal state within
// the orchestrator's deadline.
var ErrTimedOut = errors.New("assistant run timed out")

// ErrUnhandled is returned by a FunctionDispatcher for a function it does
// not know. It fails the run, unlike an ordinary dispatch error.
var ErrUnhandled = errors.New("function not handled")

// API is the remote assistants surface the orchestrator drives.
type API interface {
	CreateThread(ctx context.Context, metadata map[string]string) (string, error)
	CreateMessage(ctx context.Context, threadID, content string, fileIDs []string) (string, error)
	CreateRun(ctx context.Context, threadID, assistantID, additionalInstructions string) (string, error)
	GetRun(ctx context.Context, threadID, runID string) (*llm.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []llm.ToolOutput) error
	ListMessages(ctx context.Context, threadID string) ([]llm.ThreadMessage, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// FileMeta ties a stored file to the run that produced it, so a later turn
// can resolve a sandbox link to a file stored earlier in the same thread.
type FileMeta struct {
	AssistantID string
	ThreadID    string
	// Name is the sandbox file name the assistant used.
	Name string
}

// FileStore persists files extracted from assistant replies and finds them
// again by run metadata.
type FileStore interface {
	Save(ctx context.Context, name string, data []byte, meta FileMeta) (string, error)
	// Search returns the URL of a previously stored file matching meta, or
	// "" when none is known.
	Search(ctx context.Context, meta FileMeta) (string, error)
}

// FunctionDispatcher resolves one tool call to its output. Returning
// ErrUnhandled marks the function as unknown to the caller; any other error
// is reported back to the assistant as the call's output.
type FunctionDispatcher interface {
	Dispatch(ctx context.Context, name, arguments string) (string, error)
}

// Options tunes the run poll loop.
type Options struct {
	// PollInterval is the initial wait between run status checks. Default 1s.
	PollInterval time.Duration
	// MaxPollInterval caps the backoff. Default 8s.
	MaxPollInterval time.Duration
	// MaxWait bounds the whole run. Default 2m.
	MaxWait time.Duration
}

// RunParams describes one assistant invocation.
type RunParams struct {
	AssistantID string
	BotID       string
	// ChatID identifies the conversation; runs with the same chat id reuse
	// the same remote thread.
	ChatID  string
	Message string
	// FileID optionally attaches an uploaded file to the message. Its
	// purpose must be FilePurpose.
	FileID      string
	FilePurpose string
	// Instructions are prepended to the run's additional instructions.
	Instructions string
	// Context is retrieved knowledge injected alongside the instructions.
	Context string
}

// RunResult is the outcome of one completed run.
type RunResult struct {
	Reply    string
	ThreadID string
	Usage    *llm.Usage
}

// Orchestrator drives assistant runs end to end: thread reuse, message
// posting, the poll loop with tool-call round trips, and reply extraction.
type Orchestrator struct {
	api         API
	discussions storage.DiscussionStore
	files       FileStore
	dispatcher  FunctionDispatcher
	opts        Options
	sleep       func(context.Context, time.Duration) error
}

// New creates an Orchestrator. dispatcher may be nil when no functions are
// exposed; a run that still requests a tool call fails.
func New(api API, discussions storage.DiscussionStore, files FileStore, dispatcher FunctionDispatcher, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPollInterval <= 0 {
		opts.MaxPollInterval = 8 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Minute
	}
	return &Orchestrator{
		api:         api,
		discussions: discussions,
		files:       files,
		dispatcher:  dispatcher,
		opts:        opts,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one assistant invocation and returns the extracted reply.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.AssistantID == "" {
		return nil, errors.New("assistant id is required")
	}
	if params.Message == "" {
		return nil, errors.New("message is required")
	}
	if params.FileID != "" && params.FilePurpose != FilePurpose {
		return nil, fmt.Errorf("file %s has purpose %q, expected %q", params.FileID, params.FilePurpose, FilePurpose)
	}

	threadID, err := o.resolveThread(ctx, params)
	if err != nil {
		return nil, err
	}

	var fileIDs []string
	if params.FileID != "" {
		fileIDs = []string{params.FileID}
	}
	if _, err := o.api.CreateMessage(ctx, threadID, params.Message, fileIDs); err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}

	instructions := params.Instructions
	if params.Context != "" {
		if instructions != "" {
			instructions += "\n"
		}
		instructions += "Additional context:\n" + params.Context
	}

	runID, err := o.api.CreateRun(ctx, threadID, params.AssistantID, instructions)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	run, err := o.awaitRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}

	reply, err := o.extractReply(ctx, params.AssistantID, threadID)
	if err != nil {
		return nil, err
	}
	return &RunResult{Reply: reply, ThreadID: threadID, Usage: run.Usage}, nil
}

// resolveThread reuses the thread bound to the chat id, creating and
// recording a fresh one on first contact.
func (o *Orchestrator) resolveThread(ctx context.Context, params RunParams) (string, error) {
	threadID, err := o.discussions.GetThreadID(ctx, params.BotID, params.ChatID)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		return threadID, nil
	}
	threadID, err = o.api.CreateThread(ctx, map[string]string{"chatId": params.ChatID})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	if err := o.discussions.SaveThreadID(ctx, params.BotID, params.ChatID, threadID); err != nil {
		return "", err
	}
	return threadID, nil
}

// awaitRun polls the run until it completes, resolving tool calls along the
// way. The poll interval backs off; exceeding the deadline fails the run as
// timed out rather than waiting forever.
func (o *Orchestrator) awaitRun(ctx context.Context, threadID, runID string) (*llm.Run, error) {
	deadline := time.Now().Add(o.opts.MaxWait)
	interval := o.opts.PollInterval

	for {
		run, err := o.api.GetRun(ctx, threadID, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll run: %w", err)
		}

		switch run.Status {
		case "completed":
			return run, nil
		case "requires_action":
			if err := o.resolveToolCalls(ctx, threadID, runID, run); err != nil {
				return nil, err
			}
			// Fresh work was submitted; start the backoff over.
			interval = o.opts.PollInterval
			continue
		case "queued", "in_progress", "running", "cancelling":
			// still running
		default:
			message := run.Status
			if run.LastError != nil {
				message = fmt.Sprintf("%s: %s", run.Status, run.LastError.Message)
			}
			return nil, fmt.Errorf("assistant run ended as %s", message)
		}

		if time.Now().After(deadline) {
			return nil, ErrTimedOut
		}
		if err := o.sleep(ctx, interval); err != nil {
			return nil, err
		}
		interval *= 2
		if interval > o.opts.MaxPollInterval {
			interval = o.opts.MaxPollInterval
		}
	}
}

// resolveToolCalls dispatches every pending tool call and submits the
// outputs in one batch. A dispatch failure becomes that call's output, so
// one broken function does not strand the whole run.
func (o *Orchestrator) resolveToolCalls(ctx context.Context, threadID, runID string, run *llm.Run) error {
	if run.RequiredAction == nil || len(run.RequiredAction.SubmitToolOutputs.ToolCalls) == 0 {
		return errors.New("run requires action but lists no tool calls")
	}
	if o.dispatcher == nil {
		return errors.New("run requested a tool call but no functions are registered")
	}

	logger := contextutil.LoggerFromContext(ctx)
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]llm.ToolOutput, 0, len(calls))
	for _, call := range calls {
		output, err := o.dispatcher.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
		if errors.Is(err, ErrUnhandled) {
			return fmt.Errorf("run requested unhandled function %q", call.Function.Name)
		}
		if err != nil {
			logger.Error("tool call failed", "function", call.Function.Name, "error", err)
			output = fmt.Sprintf("Error: %s", err)
		}
		outputs = append(outputs, llm.ToolOutput{ToolCallID: call.ID, Output: output})
	}
	if err := o.api.SubmitToolOutputs(ctx, threadID, runID, outputs); err != nil {
		return fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	return nil
}

var citationPattern = regexp.MustCompile(`【[^】]*】`)
var sandboxPattern = regexp.MustCompile(`sandbox:/mnt/data/([^\s)"']+)`)

// extractReply reads the newest assistant message and flattens it to
// markdown: generated images become image links, sandbox file paths are
// rewritten to stored-file URLs, citation markers are dropped. An empty
// reply is a failure, not a silent blank answer.
func (o *Orchestrator) extractReply(ctx context.Context, assistantID, threadID string) (string, error) {
	messages, err := o.api.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}

	var reply strings.Builder
	fileURLs := map[string]string{} // sandbox file name -> stored URL

	for _, message := range messages {
		if message.Role != "assistant" {
			break
		}
		for _, block := range message.Content {
			switch block.Type {
			case "image_file":
				if block.ImageFile == nil {
					continue
				}
				url, err := o.storeFile(ctx, assistantID, threadID, block.ImageFile.FileID, block.ImageFile.FilePath)
				if err != nil {
					return "", err
				}
				reply.WriteString(fmt.Sprintf("![Image](%s)\n", url))
			case "text":
				if block.Text == nil {
					continue
				}
				text := block.Text.Value
				for _, annotation := range block.Text.Annotations {
					if annotation.Type != "file_path" || annotation.FilePath.FileID == "" {
						continue
					}
					url, err := o.storeFile(ctx, assistantID, threadID, annotation.FilePath.FileID, annotation.Text)
					if err != nil {
						return "", err
					}
					// Replace only the first occurrence: the same sandbox
					// path can legitimately appear again in prose.
					text = strings.Replace(text, annotation.Text, url, 1)
					if name := sandboxFileName(annotation.Text); name != "" {
						fileURLs[name] = url
					}
				}
				reply.WriteString(text)
				reply.WriteString("\n")
			}
		}
		// Only the newest assistant message answers this run; older ones
		// belong to earlier turns.
		break
	}

	text := reply.String()
	// Sweep sandbox links the annotations missed: first the files stored
	// while extracting this reply, then the store's metadata search for
	// files persisted by earlier runs on the same thread.
	text = sandboxPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := sandboxFileName(match)
		if url, ok := fileURLs[name]; ok {
			return url
		}
		url, err := o.files.Search(ctx, FileMeta{AssistantID: assistantID, ThreadID: threadID, Name: name})
		if err != nil {
			contextutil.LoggerFromContext(ctx).Error("file search failed", "name", name, "error", err)
			return match
		}
		if url != "" {
			return url
		}
		return match
	})
	text = strings.TrimSpace(citationPattern.ReplaceAllString(text, ""))
	if text == "" {
		return "", errors.New("assistant returned an empty reply")
	}
	return text, nil
}

// storeFile downloads a generated file and saves it under its sandbox name,
// tagged with the run's assistant and thread ids.
func (o *Orchestrator) storeFile(ctx context.Context, assistantID, threadID, fileID, sandboxPath string) (string, error) {
	data, err := o.api.DownloadFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	name := sandboxFileName(sandboxPath)
	if name == "" {
		name = fileID
	}
	url, err := o.files.Save(ctx, name, data, FileMeta{AssistantID: assistantID, ThreadID: threadID, Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to store file %s: %w", name, err)
	}
	return url, nil
}

func sandboxFileName(path string) string {
	if path == "" {
		return ""
	}
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

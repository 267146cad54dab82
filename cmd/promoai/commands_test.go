package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/promoai/internal/config"
	"github.com/kalambet/promoai/internal/repair"
)

const orderModel = "```yaml\nsequence:\n  - activity: Receive order\n  - activity: Ship order\n```"

// fakeOllama serves /api/chat from a reply queue and /api/tags from a
// fixed model list.
type fakeOllama struct {
	mu      sync.Mutex
	replies []string
	chats   int
	server  *httptest.Server
}

func newFakeOllama(t *testing.T, replies ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{replies: replies}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/chat":
			f.mu.Lock()
			f.chats++
			reply := "I am not sure."
			if len(f.replies) > 0 {
				reply = f.replies[0]
				f.replies = f.replies[1:]
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": reply},
			})
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"gemma3:4b"},{"name":"deepcoder:latest"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

// useConfig points the commands at a temp data dir and the fake server.
func useConfig(t *testing.T, ollamaURL string, primary, tolerance int) config.Config {
	t.Helper()
	cfg := config.Config{
		Server:   config.ServerConfig{Port: 4100},
		Ollama:   config.OllamaConfig{BaseURL: ollamaURL, Model: "gemma3:4b"},
		Together: config.TogetherConfig{BaseURL: "http://127.0.0.1:1", Model: "meta-llama/Llama-3-70B-Instruct"},
		Generation: config.GenerationConfig{
			Provider:             "Ollama",
			MaxIterations:        primary,
			AdditionalIterations: tolerance,
		},
		Storage: config.StorageConfig{DataDir: t.TempDir()},
		Log:     config.LogConfig{Level: "error"},
	}
	old := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = old })
	return cfg
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	noColor = true

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGenerateCommand(t *testing.T) {
	f := newFakeOllama(t, "Let me think.", orderModel)
	useConfig(t, f.server.URL, 2, 0)

	out, err := execute(t, "generate", "--text", "The shop receives the order and ships it.", "--json")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var sess struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Code   string `json:"code"`
		Stats  struct {
			Activities int `json:"activities"`
		} `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &sess); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if sess.Status != "ready" || sess.Stats.Activities != 2 {
		t.Errorf("session = %+v", sess)
	}
	if f.chats != 2 {
		t.Errorf("chat calls = %d, want 2", f.chats)
	}

	out, err = execute(t, "show", sess.ID, "--code")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if out != sess.Code {
		t.Errorf("show --code = %q, want %q", out, sess.Code)
	}

	out, err = execute(t, "show", sess.ID, "--conversation", "--runs")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"Receive order", "Conversation", "Executing your code led to an error!", "Runs", "succeeded"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, sess.ID[:8]) || !strings.Contains(out, "The shop receives the order") {
		t.Errorf("list output = %q", out)
	}
}

func TestGenerateCommand_PlainOutput(t *testing.T) {
	f := newFakeOllama(t, orderModel)
	useConfig(t, f.server.URL, 1, 0)

	out, err := execute(t, "generate", "--text", "Orders are shipped.")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(out, "sequence:") {
		t.Errorf("stdout should carry the model code, got %q", out)
	}
}

func TestGenerateCommand_File(t *testing.T) {
	f := newFakeOllama(t, orderModel)
	useConfig(t, f.server.URL, 1, 0)

	path := filepath.Join(t.TempDir(), "process.html")
	if err := os.WriteFile(path, []byte("<p>Orders are received and shipped.</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "generate", "--file", path, "--json")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, `"description": "Orders are received and shipped."`) {
		t.Errorf("description not read from file:\n%s", out)
	}
}

func TestGenerateCommand_InputFlags(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", 1, 0)

	if _, err := execute(t, "generate"); err == nil {
		t.Error("expected error without --text or --file")
	}
	if _, err := execute(t, "generate", "--text", "a", "--file", "b.txt"); err == nil {
		t.Error("expected error with both --text and --file")
	}
	if _, err := execute(t, "generate", "--file", "model.docx"); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestGenerateCommand_Exhausted(t *testing.T) {
	f := newFakeOllama(t)
	useConfig(t, f.server.URL, 2, 1)

	_, err := execute(t, "generate", "--text", "Approve invoices.")
	var exhausted *repair.ExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustionError", err)
	}
	if exhausted.Attempts != 3 || f.chats != 3 {
		t.Errorf("attempts = %d, chats = %d, want 3", exhausted.Attempts, f.chats)
	}
}

func TestGenerateCommand_BudgetFlags(t *testing.T) {
	f := newFakeOllama(t)
	useConfig(t, f.server.URL, 5, 5)

	_, err := execute(t, "generate", "--text", "x", "--max-iterations", "1", "--additional-iterations", "0")
	var exhausted *repair.ExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustionError", err)
	}
	if f.chats != 1 {
		t.Errorf("chats = %d, want 1", f.chats)
	}
}

func TestGenerateCommand_UnknownProvider(t *testing.T) {
	f := newFakeOllama(t)
	useConfig(t, f.server.URL, 1, 0)

	_, err := execute(t, "generate", "--text", "x", "--provider", "Foo")
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("err = %v, want unsupported provider", err)
	}
	if f.chats != 0 {
		t.Errorf("chats = %d, want 0", f.chats)
	}
}

func TestImportAndRefine(t *testing.T) {
	refined := "```yaml\nsequence:\n  - activity: A\n  - loop:\n      do: {activity: B}\n      redo: {activity: Fix B}\n```"
	f := newFakeOllama(t, refined)
	useConfig(t, f.server.URL, 1, 0)

	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte("sequence:\n  - activity: A\n  - activity: B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "import", path); err != nil {
		t.Fatalf("import: %v", err)
	}

	a, err := openApp()
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := a.svc.List(1)
	a.Close()
	if err != nil || len(sessions) != 1 {
		t.Fatalf("List = %v, %v", sessions, err)
	}
	id := sessions[0].ID

	if _, err := execute(t, "refine", id); err == nil {
		t.Error("expected error without --feedback")
	}

	out, err := execute(t, "refine", id, "--feedback", "B may need to be fixed and repeated.")
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if !strings.Contains(out, "Fix B") {
		t.Errorf("refined code = %q", out)
	}
}

func TestImportCommand_Invalid(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", 1, 0)

	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte("choice:\n  - activity: only one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "import", path); err == nil {
		t.Error("expected error for invalid model")
	}
}

func TestShowCommand_NotFound(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", 1, 0)

	_, err := execute(t, "show", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestListCommand_Empty(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", 1, 0)

	out, err := execute(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "No sessions found." {
		t.Errorf("out = %q", out)
	}
}

func TestModelsListCommand(t *testing.T) {
	f := newFakeOllama(t)
	useConfig(t, f.server.URL, 1, 0)

	out, err := execute(t, "models", "list")
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	if !strings.Contains(out, "gemma3:4b (configured)") || !strings.Contains(out, "deepcoder:latest") {
		t.Errorf("out = %q", out)
	}

	if _, err := execute(t, "models", "list", "--provider", "Together"); err == nil {
		t.Error("expected error for Together without an API key")
	}
}

func TestProvidersCommand(t *testing.T) {
	out, err := execute(t, "providers")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	for _, want := range []string{"Ollama (no API key)", "Together (API key required)", "* gemma3:4b"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "promoai version dev\n" {
		t.Errorf("out = %q", out)
	}
}

func TestConfigSetSecret_EmptyValue(t *testing.T) {
	rootCmd.SetIn(strings.NewReader("  \n"))
	defer rootCmd.SetIn(nil)

	if _, err := execute(t, "config", "set-secret", "together.api_key"); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file should be gone")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("WARN", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("log output = %q", buf.String())
	}

	buf.Reset()
	newLogger("nonsense", &buf).Debug("debug")
	if buf.Len() != 0 {
		t.Error("unknown level should default to info")
	}
	newLogger("debug", io.Discard).Debug("ok")
}

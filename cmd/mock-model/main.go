// Package main implements a mock model server for development and wiring
// tests. It serves OpenAI-compatible /v1/chat/completions responses from JSON
// fixture files, routing by the "model" field in the request, so the insight
// pipeline can run fast, deterministic, and offline.
//
// Usage:
//
//	mock-model -fixtures ./fixtures -port 11434
//
// Fixture files are JSON named by model ("mock-reader.json" answers model
// "mock-reader"). Numbered files ("mock-reader.1.json", "mock-reader.2.json")
// are served in call order before the base file takes over as the repeating
// fallback.
//
// A fixture named "model.N.stall" (any content) makes the Nth call hang for
// the -stall duration before returning 503. Two stall fixtures followed by a
// real one reproduce the timeout-timeout-success retry sequence end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// fixture is one scripted reply: either JSON content or a stall.
type fixture struct {
	content string
	stall   bool
}

type server struct {
	fixtures map[string][]fixture // model name -> ordered replies
	stallFor time.Duration
	calls    atomic.Int64

	modelCalls   map[string]*atomic.Int64
	modelCallsMu sync.Mutex
}

func newServer(fixtures map[string][]fixture, stallFor time.Duration) *server {
	return &server{
		fixtures:   fixtures,
		stallFor:   stallFor,
		modelCalls: make(map[string]*atomic.Int64),
	}
}

func (s *server) counter(model string) *atomic.Int64 {
	s.modelCallsMu.Lock()
	defer s.modelCallsMu.Unlock()
	if c, ok := s.modelCalls[model]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.modelCalls[model] = c
	return c
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	stallFor := flag.Duration("stall", 2*time.Minute, "how long a stall fixture hangs before failing")
	flag.Parse()

	if envDir := os.Getenv("MOCK_MODEL_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "./fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
	}
	log.Printf("Loaded %d model(s) from %s", len(fixtures), *fixtureDir)
	for model, seq := range fixtures {
		log.Printf("  model: %s (%d fixture(s))", model, len(seq))
	}

	s := newServer(fixtures, *stallFor)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock model server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	log.Printf("[call %d] model=%s messages=%d", callNum, req.Model, len(req.Messages))

	seq, ok := s.fixtures[req.Model]
	if !ok {
		log.Printf("[call %d] WARNING: no fixture for model=%q", callNum, req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	callIndex := int(s.counter(req.Model).Add(1) - 1)
	fix := seq[len(seq)-1]
	if callIndex < len(seq) {
		fix = seq[callIndex]
	}

	if fix.stall {
		log.Printf("[call %d] model=%s call_index=%d stalling for %s", callNum, req.Model, callIndex+1, s.stallFor)
		select {
		case <-time.After(s.stallFor):
		case <-r.Context().Done():
			log.Printf("[call %d] client gave up", callNum)
			return
		}
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		return
	}

	log.Printf("[call %d] model=%s call_index=%d/%d", callNum, req.Model, callIndex+1, len(seq))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    "assistant",
					Content: fix.content,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(fix.content) / 4,
			CompletionTokens: len(fix.content) / 4,
			TotalTokens:      len(fix.content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var models []modelEntry
	for name := range s.fixtures {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-model"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": models})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.modelCallsMu.Lock()
	callsByModel := make(map[string]int64, len(s.modelCalls))
	for model, counter := range s.modelCalls {
		callsByModel[model] = counter.Load()
	}
	s.modelCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": callsByModel,
	})
}

// numberedFileRe matches files like "mock-reader.1.json" or "mock-reader.2.stall".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.(json|stall)$`)

// loadFixtures reads fixture files from dir and returns per-model reply
// sequences: numbered files in order, then the base file as the repeating
// fallback.
func loadFixtures(dir string) (map[string][]fixture, error) {
	baseFiles := make(map[string]fixture)
	numberedFiles := make(map[string]map[int]fixture)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".stall") {
			return nil
		}

		if matches := numberedFileRe.FindStringSubmatch(name); matches != nil {
			model := matches[1]
			index, _ := strconv.Atoi(matches[2])
			fix, err := loadFixture(path, matches[3] == "stall")
			if err != nil {
				return err
			}
			if numberedFiles[model] == nil {
				numberedFiles[model] = make(map[int]fixture)
			}
			numberedFiles[model][index] = fix
			return nil
		}

		if strings.HasSuffix(name, ".json") {
			fix, err := loadFixture(path, false)
			if err != nil {
				return err
			}
			baseFiles[strings.TrimSuffix(name, ".json")] = fix
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]fixture)
	allModels := make(map[string]bool)
	for m := range baseFiles {
		allModels[m] = true
	}
	for m := range numberedFiles {
		allModels[m] = true
	}

	for model := range allModels {
		var seq []fixture
		if numbered, ok := numberedFiles[model]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}
		if base, ok := baseFiles[model]; ok {
			seq = append(seq, base)
		}
		if len(seq) > 0 {
			fixtures[model] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}

func loadFixture(path string, stall bool) (fixture, error) {
	if stall {
		return fixture{stall: true}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return fixture{}, fmt.Errorf("invalid JSON in %s", path)
	}
	return fixture{content: string(data)}, nil
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/memory"
	"github.com/hlibko/vika-voice-agent/internal/prompts"
	"github.com/hlibko/vika-voice-agent/internal/tools"
)

// echoProcessor replies with a fixed prefix and grows history like the
// real orchestrator would.
type echoProcessor struct {
	reply   string
	callIDs []string
}

func (p *echoProcessor) Process(ctx context.Context, userText string, history []llm.Message) (string, []llm.Message) {
	p.callIDs = append(p.callIDs, tools.CallIDFromContext(ctx))
	history = append(history, llm.UserText(userText))
	if p.reply == "" {
		return "", history
	}
	history = append(history, llm.AssistantText(p.reply))
	return p.reply, history
}

func newBridgeServer(t *testing.T, processor TurnProcessor, archive *memory.Archive) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer("", 0, processor, archive, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/call", s.handleCall)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/calls/{id}", s.handleCallGet)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialCall(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/call"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCallTranscriptReply(t *testing.T) {
	proc := &echoProcessor{reply: "Доброго дня! Чим можу допомогти?"}
	ts := newBridgeServer(t, proc, nil)
	conn := dialCall(t, ts)

	if err := conn.WriteJSON(inboundFrame{Type: "transcript", Text: "Алло"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out outboundFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Type != "reply" {
		t.Errorf("frame type = %q", out.Type)
	}
	if out.Text != proc.reply {
		t.Errorf("reply = %q", out.Text)
	}
	if out.CallID == "" {
		t.Error("call id missing")
	}
}

func TestCallEmptyResponseFallback(t *testing.T) {
	ts := newBridgeServer(t, &echoProcessor{reply: ""}, nil)
	conn := dialCall(t, ts)

	conn.WriteJSON(inboundFrame{Type: "transcript", Text: "Алло"})

	var out outboundFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Text != prompts.EmptyResponseFallback {
		t.Errorf("expected fallback utterance, got %q", out.Text)
	}
}

func TestCallIgnoresEmptyTranscript(t *testing.T) {
	proc := &echoProcessor{reply: "відповідь"}
	ts := newBridgeServer(t, proc, nil)
	conn := dialCall(t, ts)

	conn.WriteJSON(inboundFrame{Type: "transcript", Text: ""})
	conn.WriteJSON(inboundFrame{Type: "transcript", Text: "Алло"})

	var out outboundFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(proc.callIDs) != 1 {
		t.Errorf("empty transcript should not reach the processor, got %d turns", len(proc.callIDs))
	}
}

func TestCallArchivedOnHangup(t *testing.T) {
	archive, err := memory.NewArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	proc := &echoProcessor{reply: "Доброго дня!"}
	ts := newBridgeServer(t, proc, archive)
	conn := dialCall(t, ts)

	conn.WriteJSON(inboundFrame{Type: "transcript", Text: "Алло"})
	var out outboundFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	conn.WriteJSON(inboundFrame{Type: "hangup"})

	// The archive write happens after the read loop exits.
	deadline := time.Now().Add(2 * time.Second)
	var rec any
	for time.Now().Before(deadline) {
		if r, err := archive.Call(out.CallID); err == nil {
			rec = r
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec == nil {
		t.Fatal("call never archived")
	}

	transcript, err := archive.Transcript(out.CallID)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(transcript) != 2 {
		t.Errorf("expected 2 archived messages, got %d", len(transcript))
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newBridgeServer(t, &echoProcessor{reply: "ok"}, nil)

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["active_calls"]; !ok {
		t.Errorf("stats missing active_calls: %v", body)
	}
}

func TestCallGetNotFound(t *testing.T) {
	archive, err := memory.NewArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	ts := newBridgeServer(t, &echoProcessor{}, archive)

	resp, err := http.Get(ts.URL + "/v1/calls/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

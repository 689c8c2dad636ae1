// Package transcript ingests conversation transcripts in JSON Lines
// form and stores them as pre_compact conversation rows, so a session's
// raw history survives context compaction.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kittclouds/recall/internal/store"
)

// Batcher is the single store capability this package needs.
type Batcher interface {
	StoreTranscriptBatch(msgs []store.TranscriptMessage) (int, error)
}

// event mirrors one transcript line. Only user and assistant events
// carry messages worth keeping.
type event struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type message struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *usage          `json:"usage"`
}

type usage struct {
	InputTokens         *int64 `json:"input_tokens"`
	OutputTokens        *int64 `json:"output_tokens"`
	CacheCreationTokens *int64 `json:"cache_creation_input_tokens"`
	CacheReadTokens     *int64 `json:"cache_read_input_tokens"`
}

type contentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Content  json.RawMessage `json:"content"`
}

// ProjectFromDir derives a project name from a working directory path.
func ProjectFromDir(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[i+1:]
	}
	if dir == "" {
		return "unknown0"
	}
	return dir
}

// SessionID formats a stored session id as "{raw}-{project}". An empty
// raw id gets a generated one so captured rows still group together.
func SessionID(raw, dir string) string {
	if raw == "" {
		raw = uuid.NewString()
	}
	return raw + "-" + ProjectFromDir(dir)
}

// Parse reads a JSONL transcript and returns the messages worth
// storing. Malformed lines and non-message events are skipped, not
// fatal; only the reader failing is an error.
func Parse(r io.Reader, sessionID, project string) ([]store.TranscriptMessage, error) {
	var msgs []store.TranscriptMessage

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			slog.Debug("skipping malformed transcript line", "error", err)
			continue
		}
		if ev.Type != "user" && ev.Type != "assistant" {
			continue
		}
		if len(ev.Message) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(ev.Message, &msg); err != nil {
			slog.Debug("skipping malformed transcript message", "error", err)
			continue
		}

		content := ExtractContent(msg.Content)
		if content == "" {
			continue
		}

		role := msg.Role
		if role == "" {
			role = ev.Type
		}

		tm := store.TranscriptMessage{
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			Project:   project,
		}
		if msg.Model != "" {
			model := msg.Model
			tm.Model = &model
		}
		if msg.Usage != nil {
			tm.InputTokens = msg.Usage.InputTokens
			tm.OutputTokens = msg.Usage.OutputTokens
			tm.CacheCreationTokens = msg.Usage.CacheCreationTokens
			tm.CacheReadTokens = msg.Usage.CacheReadTokens
		}
		if ev.Timestamp != "" {
			ts := ev.Timestamp
			tm.MessageTimestamp = &ts
		}
		msgs = append(msgs, tm)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return msgs, nil
}

// Ingest parses a transcript stream and batch-stores the captured
// messages. Returns the number of rows stored.
func Ingest(b Batcher, r io.Reader, rawSessionID, dir string) (int, error) {
	sessionID := SessionID(rawSessionID, dir)
	project := ProjectFromDir(dir)

	msgs, err := Parse(r, sessionID, project)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	n, err := b.StoreTranscriptBatch(msgs)
	if err != nil {
		return 0, fmt.Errorf("store transcript batch: %w", err)
	}
	slog.Info("transcript captured", "session_id", sessionID, "messages", n)
	return n, nil
}

// ExtractContent flattens a message content payload to text. String
// content passes through; block arrays keep text and thinking blocks
// (thinking prefixed "[thinking] ") and tool_result payloads, and skip
// tool_use blocks.
func ExtractContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		// Unknown shape: keep the raw JSON rather than dropping it.
		return string(raw)
	}

	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case "thinking":
			if b.Thinking != "" {
				parts = append(parts, "[thinking] "+b.Thinking)
			}
		case "tool_result":
			if len(b.Content) == 0 {
				continue
			}
			var rs string
			if err := json.Unmarshal(b.Content, &rs); err == nil {
				parts = append(parts, rs)
			} else {
				parts = append(parts, string(b.Content))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Package memory archives finished calls for later review. The
// archive sits off the per-turn hot path: the voice bridge writes a
// call once, when it ends.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hlibko/vika-voice-agent/internal/llm"
)

// Archive is a SQLite-backed call transcript store.
type Archive struct {
	db *sql.DB
}

// NewArchive opens the archive at the given database path.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL,
		turns INTEGER NOT NULL DEFAULT 0,
		order_stage TEXT NOT NULL DEFAULT 'none',
		fitting_booked BOOLEAN NOT NULL DEFAULT FALSE,
		transferred BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		blocks TEXT NOT NULL,
		FOREIGN KEY (call_id) REFERENCES calls(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_call ON messages(call_id, seq);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		is_error BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (call_id) REFERENCES calls(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_call ON tool_calls(call_id);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// CallRecord summarizes one archived call.
type CallRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Turns         int       `json:"turns"`
	OrderStage    string    `json:"order_stage"`
	FittingBooked bool      `json:"fitting_booked"`
	Transferred   bool      `json:"transferred"`
}

// SaveCall archives a finished call with its full history. The history
// is decomposed twice: messages keep the raw blocks as JSON, and every
// tool_use block also lands in the queryable tool_calls table joined
// with its result.
func (a *Archive) SaveCall(rec CallRecord, history []llm.Message) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO calls (id, started_at, ended_at, turns, order_stage, fitting_booked, transferred)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StartedAt.UTC().Format(time.RFC3339), rec.EndedAt.UTC().Format(time.RFC3339),
		rec.Turns, rec.OrderStage, rec.FittingBooked, rec.Transferred)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	results := toolResultIndex(history)

	for seq, m := range history {
		blocks, err := json.Marshal(m.Blocks)
		if err != nil {
			return fmt.Errorf("marshal blocks: %w", err)
		}

		id, _ := uuid.NewV7()
		_, err = tx.Exec(`
			INSERT INTO messages (id, call_id, seq, role, blocks)
			VALUES (?, ?, ?, ?, ?)
		`, id.String(), rec.ID, seq, m.Role, string(blocks))
		if err != nil {
			return fmt.Errorf("insert message %d: %w", seq, err)
		}

		for _, use := range m.ToolUses() {
			args, _ := json.Marshal(use.Input)
			result := results[use.ID]

			tcID, _ := uuid.NewV7()
			_, err = tx.Exec(`
				INSERT INTO tool_calls (id, call_id, tool_name, arguments, result, is_error)
				VALUES (?, ?, ?, ?, ?, ?)
			`, tcID.String(), rec.ID, use.Name, string(args), result, isErrorPayload(result))
			if err != nil {
				return fmt.Errorf("insert tool call %s: %w", use.ID, err)
			}
		}
	}

	return tx.Commit()
}

// toolResultIndex maps tool_use ids to their result content.
func toolResultIndex(history []llm.Message) map[string]string {
	idx := make(map[string]string)
	for _, m := range history {
		for _, b := range m.Blocks {
			if b.Type == llm.BlockToolResult {
				idx[b.ToolUseID] = b.Content
			}
		}
	}
	return idx
}

// isErrorPayload recognizes the router's error envelope.
func isErrorPayload(result string) bool {
	var m map[string]any
	if err := json.Unmarshal([]byte(result), &m); err != nil {
		return false
	}
	_, ok := m["error"]
	return ok && len(m) == 1
}

// Call loads one archived call record.
func (a *Archive) Call(callID string) (*CallRecord, error) {
	row := a.db.QueryRow(`
		SELECT id, started_at, ended_at, turns, order_stage, fitting_booked, transferred
		FROM calls WHERE id = ?
	`, callID)

	var rec CallRecord
	var started, ended string
	err := row.Scan(&rec.ID, &started, &ended, &rec.Turns, &rec.OrderStage, &rec.FittingBooked, &rec.Transferred)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("call %s not found", callID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan call: %w", err)
	}

	rec.StartedAt, _ = time.Parse(time.RFC3339, started)
	rec.EndedAt, _ = time.Parse(time.RFC3339, ended)
	return &rec, nil
}

// Transcript loads the archived history of one call in order.
func (a *Archive) Transcript(callID string) ([]llm.Message, error) {
	rows, err := a.db.Query(`
		SELECT role, blocks FROM messages WHERE call_id = ? ORDER BY seq
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var role, blocksJSON string
		if err := rows.Scan(&role, &blocksJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var blocks []llm.ContentBlock
		if err := json.Unmarshal([]byte(blocksJSON), &blocks); err != nil {
			return nil, fmt.Errorf("unmarshal blocks: %w", err)
		}
		history = append(history, llm.Message{Role: role, Blocks: blocks})
	}
	return history, rows.Err()
}

// Stats aggregates archive counters for the telemetry publisher and
// the stats endpoint.
type Stats struct {
	TotalCalls       int            `json:"total_calls"`
	CallsToday       int            `json:"calls_today"`
	ConfirmedOrders  int            `json:"confirmed_orders"`
	Transfers        int            `json:"transfers"`
	ToolCallsByName  map[string]int `json:"tool_calls_by_name"`
	ToolErrors       int            `json:"tool_errors"`
	LastCallEndedAt  time.Time      `json:"last_call_ended_at"`
}

// Stats computes archive-wide counters.
func (a *Archive) Stats() (*Stats, error) {
	st := &Stats{ToolCallsByName: make(map[string]int)}

	midnight := time.Now().UTC().Truncate(24 * time.Hour).Format(time.RFC3339)
	var lastEnded string
	err := a.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(ended_at >= ?), 0),
		       COALESCE(SUM(order_stage = 'confirmed'), 0),
		       COALESCE(SUM(transferred), 0),
		       COALESCE(MAX(ended_at), '')
		FROM calls
	`, midnight).Scan(&st.TotalCalls, &st.CallsToday, &st.ConfirmedOrders, &st.Transfers, &lastEnded)
	if err != nil {
		return nil, fmt.Errorf("call counters: %w", err)
	}
	if lastEnded != "" {
		st.LastCallEndedAt, _ = time.Parse(time.RFC3339, lastEnded)
	}

	rows, err := a.db.Query(`SELECT tool_name, COUNT(*) FROM tool_calls GROUP BY tool_name`)
	if err != nil {
		return nil, fmt.Errorf("tool counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan tool counter: %w", err)
		}
		st.ToolCallsByName[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := a.db.QueryRow(`SELECT COUNT(*) FROM tool_calls WHERE is_error`).Scan(&st.ToolErrors); err != nil {
		return nil, fmt.Errorf("tool errors: %w", err)
	}

	return st, nil
}

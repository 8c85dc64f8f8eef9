package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hlibko/vika-voice-agent/internal/events"
	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/memory"
	"github.com/hlibko/vika-voice-agent/internal/order"
	"github.com/hlibko/vika-voice-agent/internal/prompts"
	"github.com/hlibko/vika-voice-agent/internal/tools"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The telephony gateway sits on a private network and carries no
	// browser credentials, origin checks do not apply.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is one JSON message from the telephony gateway.
type inboundFrame struct {
	// Type is "transcript" for a final STT result or "hangup" when the
	// caller disconnects.
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// outboundFrame carries reply text for the gateway's TTS.
type outboundFrame struct {
	Type   string `json:"type"` // "reply"
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// handleCall runs one voice call over a websocket connection. Frames
// are handled sequentially by the read loop, so turns for one call
// never overlap, which the orchestrator requires.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, _ := uuid.NewV7()
	callID := id.String()
	state := order.NewState()
	started := time.Now()

	ctx := tools.WithCallID(r.Context(), callID)
	ctx = tools.WithState(ctx, state)

	s.active.Add(1)
	defer s.active.Add(-1)

	s.bus.Publish(events.Event{
		Source: events.SourceBridge,
		Kind:   events.KindCallStart,
		Data:   map[string]any{"call_id": callID, "remote": r.RemoteAddr},
	})
	s.logger.Info("call started", "call_id", callID, "remote", r.RemoteAddr)

	var history []llm.Message
	turns := 0

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("call connection lost", "call_id", callID, "error", err)
			}
			break
		}

		switch frame.Type {
		case "transcript":
			if frame.Text == "" {
				continue
			}
			response, updated := s.processor.Process(ctx, frame.Text, history)
			history = updated
			turns++

			if response == "" {
				response = prompts.EmptyResponseFallback
			}
			if err := conn.WriteJSON(outboundFrame{Type: "reply", CallID: callID, Text: response}); err != nil {
				s.logger.Warn("reply write failed", "call_id", callID, "error", err)
			}

		case "hangup":
			s.logger.Info("caller hung up", "call_id", callID)
			goto done

		default:
			s.logger.Debug("unknown frame type ignored", "call_id", callID, "type", frame.Type)
		}
	}
done:

	s.finishCall(callID, started, turns, state, history)
}

// finishCall archives the call and announces its end.
func (s *Server) finishCall(callID string, started time.Time, turns int, state *order.State, history []llm.Message) {
	stage, fittingBooked := state.Snapshot()
	transferred := wasTransferred(history)

	if s.archive != nil && turns > 0 {
		rec := memory.CallRecord{
			ID:            callID,
			StartedAt:     started,
			EndedAt:       time.Now(),
			Turns:         turns,
			OrderStage:    stage.String(),
			FittingBooked: fittingBooked,
			Transferred:   transferred,
		}
		if err := s.archive.SaveCall(rec, history); err != nil {
			s.logger.Error("call archive failed", "call_id", callID, "error", err)
		}
	}

	s.bus.Publish(events.Event{
		Source: events.SourceBridge,
		Kind:   events.KindCallEnd,
		Data: map[string]any{
			"call_id":     callID,
			"turns":       turns,
			"order_stage": stage.String(),
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})
	s.logger.Info("call ended",
		"call_id", callID,
		"turns", turns,
		"order_stage", stage.String(),
		"duration", time.Since(started).Truncate(time.Second),
	)
}

// wasTransferred reports whether the model handed the call to an
// operator at any point.
func wasTransferred(history []llm.Message) bool {
	for _, m := range history {
		for _, use := range m.ToolUses() {
			if use.Name == tools.NameTransferToOperator {
				return true
			}
		}
	}
	return false
}

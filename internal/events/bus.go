// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (orchestrator, voice
// bridge, telemetry publisher) to subscribers (stats endpoint, MQTT
// counters). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the orchestrator turn loop.
	SourceAgent = "agent"
	// SourceBridge identifies events from the voice bridge.
	SourceBridge = "bridge"
)

// Kind constants describe the type of event within a source.
const (
	// KindCallStart signals a new call session was opened.
	// Data: call_id, remote.
	KindCallStart = "call_start"
	// KindTurnStart signals the beginning of one caller utterance.
	// Data: call_id.
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of a backend completion call.
	// Data: call_id, messages, visible_tools.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a backend call.
	// Data: call_id, stop_reason, input_tokens, output_tokens.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: call_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: call_id, tool.
	KindToolDone = "tool_done"
	// KindTurnComplete signals the end of one caller utterance.
	// Data: call_id, tool_calls, duration_ms.
	KindTurnComplete = "turn_complete"
	// KindCallEnd signals a call session was closed.
	// Data: call_id, turns, order_stage, duration_ms.
	KindCallEnd = "call_end"
)

// Event is one operational occurrence published on the bus.
type Event struct {
	// Timestamp records when the event was published.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so that
	// Unsubscribe can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

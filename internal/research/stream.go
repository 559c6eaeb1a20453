package research

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ChunkType mirrors the SSE delta.type values the HTTP surface emits.
type ChunkType string

const (
	ChunkThink ChunkType = "think"
	ChunkText  ChunkType = "text"
	ChunkJSON  ChunkType = "json"
	ChunkError ChunkType = "error"
)

// Chunk is one unit of streamed output.
type Chunk struct {
	Type ChunkType
	Data string
	// URL carries a Visit target on the one url chunk emitted per target,
	// ahead of that step's think text. Empty otherwise.
	URL string
	// FinishReason is set on the chunk that ends a phase ("thinking_end",
	// "stop") and empty otherwise.
	FinishReason string
}

// pacedItem is one unit of text queued for natural-typing playback.
type pacedItem struct {
	typ  ChunkType
	text string
}

// StreamChannel is a FIFO of chunks. Paced think text queued by EmitThink is
// written to ch by a dedicated drain goroutine, so pacing can be preempted
// mid-item without the scheduler blocking on it. EmitURL, EmitJSON and
// EmitError write to ch directly, and Finalize writes the closing chunks
// after drain has stopped. The HTTP handler is the sole consumer of ch.
type StreamChannel struct {
	ch      chan Chunk
	items   chan pacedItem
	preempt chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewStreamChannel returns a channel with reasonable buffering so the
// producer never blocks on a slow consumer mid-step, and starts the
// background goroutine that paces queued items onto the channel.
func NewStreamChannel() *StreamChannel {
	s := &StreamChannel{
		ch:      make(chan Chunk, 256),
		items:   make(chan pacedItem, 256),
		preempt: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.drain()
	return s
}

// Chunks returns the receive side for the HTTP handler to range over.
func (s *StreamChannel) Chunks() <-chan Chunk {
	return s.ch
}

// EmitThink queues free-form reasoning text to be streamed as a sequence of
// naturally paced chunks.
func (s *StreamChannel) EmitThink(text string) {
	s.enqueue(ChunkThink, text)
}

func (s *StreamChannel) enqueue(typ ChunkType, text string) {
	if text == "" {
		return
	}
	select {
	case s.items <- pacedItem{typ: typ, text: text}:
	case <-s.stopped:
	}
}

// EmitURL emits a single unpaced chunk carrying a Visit target. Visit
// dispatch calls this once per target ahead of emitting that step's think
// text.
func (s *StreamChannel) EmitURL(url string) {
	select {
	case s.ch <- Chunk{Type: ChunkThink, URL: url}:
	case <-s.stopped:
	}
}

// EmitJSON emits a single structured chunk (e.g. a references payload) with
// no pacing, since it is not meant to be read character by character.
func (s *StreamChannel) EmitJSON(data string) {
	select {
	case s.ch <- Chunk{Type: ChunkJSON, Data: data}:
	case <-s.stopped:
	}
}

// EmitError emits a terminal error chunk.
func (s *StreamChannel) EmitError(msg string) {
	select {
	case s.ch <- Chunk{Type: ChunkError, Data: msg, FinishReason: "stop"}:
	case <-s.stopped:
	}
}

// Finalize performs the drain-and-finalize preemption: any in-flight paced
// item is flushed immediately as a single chunk (no more pacing), every
// other queued item is discarded, a thinking_end marker is emitted, then
// the final answer is emitted as one complete chunk with finish_reason
// stop. Safe to call more than once; only the first call has effect.
func (s *StreamChannel) Finalize(answerText string) {
	s.once.Do(func() {
		close(s.preempt)
		<-s.stopped

		select {
		case s.ch <- Chunk{Type: ChunkThink, FinishReason: "thinking_end"}:
		default:
		}
		select {
		case s.ch <- Chunk{Type: ChunkText, Data: answerText, FinishReason: "stop"}:
		default:
		}
		close(s.ch)
	})
}

// drain writes the queued paced items to ch. It paces items one at a time, exiting as soon as preemption fires — either
// between items or, via paceItem's return value, mid-item.
func (s *StreamChannel) drain() {
	defer close(s.stopped)
	for {
		select {
		case item, ok := <-s.items:
			if !ok {
				return
			}
			if s.paceItem(item) {
				return
			}
		case <-s.preempt:
			return
		}
	}
}

// paceItem streams one item word-by-word, returning true if preemption
// fired mid-stream, in which case the remaining words are flushed as a
// single chunk with no further pacing.
func (s *StreamChannel) paceItem(item pacedItem) (preempted bool) {
	words := splitKeepDelim(item.text)
	for i, w := range words {
		select {
		case <-s.preempt:
			s.flushRest(item.typ, words[i:])
			return true
		default:
		}
		select {
		case s.ch <- Chunk{Type: item.typ, Data: w}:
		case <-s.preempt:
			s.flushRest(item.typ, words[i+1:])
			return true
		}
		time.Sleep(pacingDelay(w))
	}
	return false
}

func (s *StreamChannel) flushRest(typ ChunkType, words []string) {
	rest := strings.Join(words, "")
	if rest == "" {
		return
	}
	select {
	case s.ch <- Chunk{Type: typ, Data: rest}:
	default:
	}
}

// splitKeepDelim splits on word boundaries while keeping the trailing
// whitespace attached to the preceding word, so chunks read naturally.
func splitKeepDelim(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == ' ' || r == '\n' {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// pacingDelay returns a small, jittered delay proportional to chunk
// complexity: punctuation reads slower than plain words, and a random
// jitter avoids perfectly uniform spacing.
func pacingDelay(chunk string) time.Duration {
	base := 12 * time.Millisecond
	for _, r := range chunk {
		switch {
		case strings.ContainsRune(".,!?;:", r):
			base += 18 * time.Millisecond
		case r == '\n':
			base += 25 * time.Millisecond
		}
	}
	jitter := time.Duration(rand.Intn(8)) * time.Millisecond
	return base + jitter
}

package research

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamChannel_EmitThinkStreamsAllTextInOrder(t *testing.T) {
	s := NewStreamChannel()
	go func() {
		s.EmitThink("hello world")
		s.Finalize("the answer")
	}()

	var think strings.Builder
	var answer string
	var sawThinkingEnd bool
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				assert.Equal(t, "hello world", think.String())
				assert.Equal(t, "the answer", answer)
				assert.True(t, sawThinkingEnd)
				return
			}
			switch {
			case c.FinishReason == "thinking_end":
				sawThinkingEnd = true
			case c.FinishReason == "stop":
				answer = c.Data
			default:
				think.WriteString(c.Data)
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream chunks")
		}
	}
}

func TestStreamChannel_FinalizeClosesChannelAfterFinalChunk(t *testing.T) {
	s := NewStreamChannel()
	s.Finalize("stop")

	var last Chunk
	for c := range s.Chunks() {
		last = c
	}
	assert.Equal(t, "stop", last.Data)
	assert.Equal(t, "stop", last.FinishReason)

	_, stillOpen := <-s.Chunks()
	assert.False(t, stillOpen)
}

func TestStreamChannel_FinalizePreemptsInFlightPacingAndDiscardsQueue(t *testing.T) {
	s := NewStreamChannel()
	longText := strings.Repeat("word ", 200)
	s.EmitThink(longText)
	s.EmitThink("this should never be seen")

	// Let pacing start, then preempt mid-stream.
	time.Sleep(20 * time.Millisecond)
	s.Finalize("final answer")

	var think strings.Builder
	var answer string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				assert.NotContains(t, think.String(), "never be seen")
				assert.Equal(t, "final answer", answer)
				return
			}
			if c.FinishReason == "stop" {
				answer = c.Data
				continue
			}
			think.WriteString(c.Data)
		case <-timeout:
			t.Fatal("timed out waiting for stream chunks")
		}
	}
}

func TestStreamChannel_EmitURLCarriesNoPacedText(t *testing.T) {
	s := NewStreamChannel()
	s.EmitURL("https://example.com/a")
	s.Finalize("")

	var sawURL bool
	for c := range s.Chunks() {
		if c.URL == "https://example.com/a" {
			sawURL = true
		}
	}
	require.True(t, sawURL)
}

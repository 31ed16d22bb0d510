package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/runtime/agent/tools"
)

// openaiStreamer adapts a Chat Completions streaming response to the
// model.Streamer interface.
type openaiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any

	toolNameMap map[string]string
}

func newOpenAIStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk], nameMap map[string]string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &openaiStreamer{
		ctx:         cctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
	}
	go s.run()
	return s
}

func (s *openaiStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return model.Chunk{}, err
			}
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *openaiStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openaiStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *openaiStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	calls := make(map[int64]*toolCallBuffer)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(s.flushToolCalls(calls))
			}
			return
		}
		chunk := s.stream.Current()
		if err := s.handle(chunk, calls); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *openaiStreamer) handle(chunk sdk.ChatCompletionChunk, calls map[int64]*toolCallBuffer) error {
	if chunk.Usage.TotalTokens != 0 {
		usage := model.TokenUsage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
		s.recordUsage(usage)
		if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
			return err
		}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		if err := s.emit(model.Chunk{
			Type: model.ChunkTypeText,
			Message: &model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: choice.Delta.Content}},
			},
		}); err != nil {
			return err
		}
	}
	for _, delta := range choice.Delta.ToolCalls {
		idx := delta.Index
		tb := calls[idx]
		if tb == nil {
			tb = &toolCallBuffer{}
			calls[idx] = tb
		}
		if delta.ID != "" {
			tb.id = delta.ID
		}
		if delta.Function.Name != "" {
			raw := delta.Function.Name
			if canonical, ok := s.toolNameMap[raw]; ok {
				tb.name = canonical
			} else {
				tb.name = raw
			}
		}
		if delta.Function.Arguments != "" {
			tb.fragments = append(tb.fragments, delta.Function.Arguments)
			if err := s.emit(model.Chunk{
				Type: model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{
					Name:  tools.Ident(tb.name),
					ID:    tb.id,
					Delta: delta.Function.Arguments,
				},
			}); err != nil {
				return err
			}
		}
	}
	if choice.FinishReason != "" {
		if err := s.flushToolCalls(calls); err != nil {
			return err
		}
		return s.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: string(choice.FinishReason)})
	}
	return nil
}

func (s *openaiStreamer) flushToolCalls(calls map[int64]*toolCallBuffer) error {
	for idx, tb := range calls {
		if tb.id == "" && tb.name == "" {
			continue
		}
		if err := s.emit(model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				Name:    tools.Ident(tb.name),
				Payload: tb.payload(),
				ID:      tb.id,
			},
		}); err != nil {
			return err
		}
		delete(calls, idx)
	}
	return nil
}

func (s *openaiStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *openaiStreamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *openaiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openaiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolCallBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolCallBuffer) payload() []byte {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return []byte("{}")
	}
	return []byte(joined)
}

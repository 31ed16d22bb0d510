package compact

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/errkind"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/tokenaccount"
)

// stubClient always returns a short fixed summary, regardless of input, so
// tests can assert on compaction shape without depending on provider wiring.
type stubClient struct {
	summary string
	calls   int
}

func (s *stubClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	s.calls++
	text := s.summary
	if text == "" {
		text = "summary"
	}
	return &model.Response{
		Content: []model.Message{
			{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
		},
	}, nil
}

func (s *stubClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func userMsg(text string) *model.Message {
	return &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: text}}}
}

func assistantMsg(text string) *model.Message {
	return &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}
}

func TestMaybeCompactReturnsUnchangedWhenUnderLimit(t *testing.T) {
	messages := []*model.Message{userMsg("hi"), assistantMsg("hello")}
	c := &Compactor{Client: &stubClient{}, Counter: tokenaccount.HeuristicCounter{}}

	out, err := c.MaybeCompact(context.Background(), messages, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, messages, out)
}

func TestMaybeCompactPreservesSystemMessageAndLatestSegment(t *testing.T) {
	sys := &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "you are an agent"}}}
	messages := []*model.Message{sys}
	for i := 0; i < 6; i++ {
		messages = append(messages,
			userMsg(fmt.Sprintf("turn %d: do something useful and describe it at length so tokens add up", i)),
			assistantMsg(fmt.Sprintf("response %d with a fair amount of detail to push the token count up", i)),
		)
	}
	client := &stubClient{summary: "short summary"}
	counter := tokenaccount.HeuristicCounter{}
	c := &Compactor{Client: client, Counter: counter}

	limit := counter.Count(messages) / 3
	out, err := c.MaybeCompact(context.Background(), messages, limit)
	require.NoError(t, err)

	require.NotEmpty(t, out)
	require.Equal(t, sys, out[0])

	last := messages[len(messages)-1]
	require.Equal(t, last, out[len(out)-1])

	require.LessOrEqual(t, counter.Count(out), limit)
	require.Greater(t, client.calls, 0)
}

func TestMaybeCompactReturnsCompactionErrorWhenUnfittable(t *testing.T) {
	sys := &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "instructions"}}}
	messages := []*model.Message{sys, userMsg("a single very long final turn that alone exceeds any limit we configure in this test")}
	c := &Compactor{Client: &stubClient{}, Counter: tokenaccount.HeuristicCounter{}}

	_, err := c.MaybeCompact(context.Background(), messages, 1)
	require.Error(t, err)
	var ce *errkind.CompactionError
	require.ErrorAs(t, err, &ce)
}

// TestMaybeCompactNeverExceedsLimitOrErrors checks the invariant from
// spec §8.3: token count after every maybe_compact call is <= limit, or the
// call returns a CompactionError.
func TestMaybeCompactNeverExceedsLimitOrErrors(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	counter := tokenaccount.HeuristicCounter{}

	properties.Property("count after compaction is within limit or CompactionError returned", prop.ForAll(
		func(segmentCount, limit int) bool {
			messages := []*model.Message{
				{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "system prompt"}}},
			}
			for i := 0; i < segmentCount; i++ {
				messages = append(messages,
					userMsg(fmt.Sprintf("user turn number %d with some padding text to add tokens", i)),
					assistantMsg(fmt.Sprintf("assistant turn number %d with some padding text too", i)),
				)
			}
			c := &Compactor{Client: &stubClient{summary: "s"}, Counter: counter}
			out, err := c.MaybeCompact(context.Background(), messages, limit)
			if err != nil {
				return true
			}
			return counter.Count(out) <= limit
		},
		gen.IntRange(1, 8),
		gen.IntRange(10, 500),
	))

	properties.TestingRun(t)
}

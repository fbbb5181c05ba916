package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/site-forge/backend/internal/model/generation"
)

type fakeChatModel struct {
	mu       sync.Mutex
	inputs   [][]*schema.Message
	calls    atomic.Int32
	generate func(ctx context.Context, input []*schema.Message) (*schema.Message, error)
	chunks   []string
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	if f.generate != nil {
		return f.generate(ctx, input)
	}
	return schema.AssistantMessage("<html>ok</html>", nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChatModel) lastInput() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

func newTestService(t *testing.T, chat, vision *fakeChatModel, opts Options) *Service {
	t.Helper()
	var visionModel model.BaseChatModel
	if vision != nil {
		visionModel = vision
	}
	svc, err := NewService(context.Background(), chat, visionModel, opts)
	require.NoError(t, err)
	return svc
}

func TestGenerateHTMLReturnsContentVerbatim(t *testing.T) {
	raw := "```html\n<!DOCTYPE html><html><body>Bakery</body></html>\n```"
	chat := &fakeChatModel{generate: func(context.Context, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(raw, nil), nil
	}}
	vision := &fakeChatModel{}
	svc := newTestService(t, chat, vision, Options{})

	res, err := svc.GenerateHTML(context.Background(), generation.Request{Description: "a bakery in Lisbon"})
	require.NoError(t, err)
	assert.Equal(t, raw, res.HTML)
	assert.Empty(t, res.Analysis.Items)
	assert.Zero(t, vision.calls.Load(), "no images means no vision calls")

	input := chat.lastInput()
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, SystemPrompt, input[0].Content)
	assert.Equal(t, schema.User, input[1].Role)
	assert.Contains(t, input[1].Content, "a bakery in Lisbon")
	assert.Contains(t, input[1].Content, "Contact form with validation")
	assert.NotContains(t, input[1].Content, "Design inspiration")
}

func TestGenerateHTMLIsolatesImageFailures(t *testing.T) {
	chat := &fakeChatModel{}
	vision := &fakeChatModel{generate: func(_ context.Context, input []*schema.Message) (*schema.Message, error) {
		parts := input[0].MultiContent
		if len(parts) != 2 || parts[1].ImageURL == nil {
			return nil, errors.New("unexpected vision message shape")
		}
		if strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
			return nil, errors.New("image rejected")
		}
		return schema.AssistantMessage("warm orange palette, two-column layout", nil), nil
	}}
	svc := newTestService(t, chat, vision, Options{ImageConcurrency: 2})

	req := generation.Request{
		Description: "portfolio",
		Images: []generation.Image{
			{Filename: "good.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0x00}},
			{Filename: "bad.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
			{Filename: "empty.jpg", ContentType: "image/jpeg"},
		},
	}
	res, err := svc.GenerateHTML(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Analysis.Items, 3)
	assert.NoError(t, res.Analysis.Items[0].Err)
	assert.Error(t, res.Analysis.Items[1].Err)
	assert.Error(t, res.Analysis.Items[2].Err)

	imageErrors := res.Analysis.Errors()
	require.Len(t, imageErrors, 2)
	assert.Equal(t, "bad.png", imageErrors[0].Filename)
	assert.Equal(t, 2, imageErrors[1].Index)

	assert.Equal(t, int32(2), vision.calls.Load(), "empty uploads are rejected before calling the API")
	prompt := chat.lastInput()[1].Content
	assert.Contains(t, prompt, "Design inspiration")
	assert.Contains(t, prompt, "warm orange palette")
}

func TestGenerateHTMLWrapsAPIErrors(t *testing.T) {
	chat := &fakeChatModel{generate: func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("upstream 502")
	}}
	svc := newTestService(t, chat, nil, Options{})

	_, err := svc.GenerateHTML(context.Background(), generation.Request{Description: "x"})
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, err.Error(), "upstream 502")
	assert.Equal(t, int32(1), chat.calls.Load(), "no retries by default")
}

func TestGenerateHTMLRetriesUpToLimit(t *testing.T) {
	var failures atomic.Int32
	chat := &fakeChatModel{generate: func(context.Context, []*schema.Message) (*schema.Message, error) {
		if failures.Add(1) <= 2 {
			return nil, errors.New("transient")
		}
		return schema.AssistantMessage("<html>third time</html>", nil), nil
	}}
	svc := newTestService(t, chat, nil, Options{MaxRetries: 2})

	res, err := svc.GenerateHTML(context.Background(), generation.Request{Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, "<html>third time</html>", res.HTML)
	assert.Equal(t, int32(3), chat.calls.Load())
}

func TestGenerateHTMLEnforcesDeadline(t *testing.T) {
	chat := &fakeChatModel{generate: func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := newTestService(t, chat, nil, Options{Timeout: 20 * time.Millisecond})

	started := time.Now()
	_, err := svc.GenerateHTML(context.Background(), generation.Request{Description: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestUnconfiguredServiceFailsEveryCall(t *testing.T) {
	svc := &Service{}
	require.False(t, svc.Enabled())

	_, err := svc.GenerateHTML(context.Background(), generation.Request{Description: "x"})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = svc.StreamHTML(context.Background(), generation.Request{Description: "x"}, func(string) error { return nil })
	require.ErrorIs(t, err, ErrNotConfigured)

	report := svc.AnalyzeImages(context.Background(), []generation.Image{{Data: []byte("x")}})
	require.Len(t, report.Errors(), 1)
}

func TestStreamHTMLDeliversChunksInOrder(t *testing.T) {
	chat := &fakeChatModel{chunks: []string{"<html>", "<body>hi</body>", "</html>"}}
	svc := newTestService(t, chat, nil, Options{})

	var got []string
	res, err := svc.StreamHTML(context.Background(), generation.Request{Description: "x"}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"<html>", "<body>hi</body>", "</html>"}, got)
	assert.Equal(t, "<html><body>hi</body></html>", res.HTML)
}

func TestBuildWebsitePrompt(t *testing.T) {
	plain := BuildWebsitePrompt("  coffee shop  ", "")
	assert.True(t, strings.HasPrefix(plain, "Create a modern, professional website based on this description: coffee shop\n"))
	assert.NotContains(t, plain, "Design inspiration")

	inspired := BuildWebsitePrompt("coffee shop", "dark theme\nserif headings\n")
	assert.Contains(t, inspired, "Design inspiration taken from the reference images:\ndark theme\nserif headings\n")
	assert.Contains(t, inspired, "Return one complete, self-contained HTML document")
}

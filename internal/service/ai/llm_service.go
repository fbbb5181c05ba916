package ai

import (
	"context"
	"encoding/base64"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	"github.com/zhouzirui/site-forge/backend/internal/metrics"
	"github.com/zhouzirui/site-forge/backend/internal/model/generation"
)

// ErrNotConfigured is returned by every call when no model credentials were supplied.
var ErrNotConfigured = errors.New("generation API is not configured: set ARK_API_KEY and AI_MODEL")

// GenerationError wraps a failure of the external generation API.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Options bounds the external calls.
type Options struct {
	// Timeout is the deadline of a single API attempt; zero means no deadline.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a failed call.
	MaxRetries int
	// ImageConcurrency limits parallel image analyses.
	ImageConcurrency int
}

// Service generates websites through the configured chat model.
type Service struct {
	visionModel model.BaseChatModel
	chain       compose.Runnable[map[string]any, *schema.Message]
	opts        Options
}

// NewService compiles the generation chain around chatModel. visionModel analyses
// inspiration images and defaults to chatModel.
func NewService(ctx context.Context, chatModel, visionModel model.BaseChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if visionModel == nil {
		visionModel = chatModel
	}
	if opts.ImageConcurrency < 1 {
		opts.ImageConcurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile generation chain")
	}

	return &Service{
		visionModel: visionModel,
		chain:       runnable,
		opts:        opts,
	}, nil
}

// NewServiceFromConfig builds the Ark-backed service. Missing credentials yield a
// service whose calls all fail with ErrNotConfigured instead of an error here.
func NewServiceFromConfig(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	if !cfg.Enabled() {
		return &Service{}, nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat model")
	}

	visionModel := chatModel
	if cfg.VisionModel != "" && cfg.VisionModel != cfg.Model {
		if visionModel, err = cfg.NewVisionModel(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to create vision model")
		}
	}

	return NewService(ctx, chatModel, visionModel, Options{
		Timeout:          cfg.Timeout,
		MaxRetries:       cfg.MaxRetries,
		ImageConcurrency: cfg.ImageConcurrency,
	})
}

// Enabled reports whether a model is wired in.
func (s *Service) Enabled() bool {
	return s != nil && s.chain != nil
}

// GenerateHTML analyses the inspiration images, builds the prompt and returns the
// model's answer verbatim.
func (s *Service) GenerateHTML(ctx context.Context, req generation.Request) (generation.Result, error) {
	if !s.Enabled() {
		metrics.GenerationRequests.WithLabelValues("unconfigured").Inc()
		return generation.Result{}, ErrNotConfigured
	}

	started := time.Now()
	logger := log.With().
		Int("description_len", len(req.Description)).
		Int("images", len(req.Images)).
		Logger()

	report := s.AnalyzeImages(ctx, req.Images)
	input := s.chainInput(req.Description, report)

	var response *schema.Message
	err := s.withRetry(ctx, "generate website", func(callCtx context.Context) error {
		msg, err := s.chain.Invoke(callCtx, input)
		if err != nil {
			return err
		}
		response = msg
		return nil
	})
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.GenerationRequests.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("website generation failed")
		return generation.Result{Analysis: report}, err
	}

	metrics.GenerationRequests.WithLabelValues("success").Inc()
	logger.Info().
		Int("html_len", len(response.Content)).
		Int("image_errors", len(report.Errors())).
		Dur("elapsed", time.Since(started)).
		Msg("website generated")

	return generation.Result{HTML: response.Content, Analysis: report}, nil
}

// StreamHTML is GenerateHTML with incremental delivery: onChunk receives every content
// delta in order. The returned Result holds the concatenated page.
func (s *Service) StreamHTML(ctx context.Context, req generation.Request, onChunk func(string) error) (generation.Result, error) {
	if !s.Enabled() {
		metrics.GenerationRequests.WithLabelValues("unconfigured").Inc()
		return generation.Result{}, ErrNotConfigured
	}

	started := time.Now()
	report := s.AnalyzeImages(ctx, req.Images)
	input := s.chainInput(req.Description, report)

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	stream, err := s.chain.Stream(callCtx, input)
	if err != nil {
		metrics.GenerationRequests.WithLabelValues("error").Inc()
		return generation.Result{Analysis: report}, &GenerationError{Op: "stream website", Err: err}
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			metrics.GenerationRequests.WithLabelValues("error").Inc()
			return generation.Result{Analysis: report}, &GenerationError{Op: "stream website", Err: recvErr}
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}
		if err := onChunk(chunk.Content); err != nil {
			return generation.Result{Analysis: report}, errors.Wrap(err, "deliver chunk")
		}
	}

	var html string
	if len(chunks) > 0 {
		merged, err := schema.ConcatMessages(chunks)
		if err != nil {
			metrics.GenerationRequests.WithLabelValues("error").Inc()
			return generation.Result{Analysis: report}, &GenerationError{Op: "concat stream", Err: err}
		}
		html = merged.Content
	}

	metrics.GenerationRequests.WithLabelValues("success").Inc()
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	log.Info().
		Int("description_len", len(req.Description)).
		Int("images", len(req.Images)).
		Int("chunks", len(chunks)).
		Int("html_len", len(html)).
		Msg("website streamed")

	return generation.Result{HTML: html, Analysis: report}, nil
}

// AnalyzeImages describes every image independently. A failing image is recorded in
// the report and never aborts the others.
func (s *Service) AnalyzeImages(ctx context.Context, images []generation.Image) generation.AnalysisReport {
	report := generation.AnalysisReport{Items: make([]generation.ImageAnalysis, len(images))}
	if len(images) == 0 {
		return report
	}

	if !s.Enabled() {
		for i, img := range images {
			report.Items[i] = generation.ImageAnalysis{Index: i, Filename: img.Filename, Err: ErrNotConfigured}
		}
		return report
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ImageConcurrency)

	for i, img := range images {
		i, img := i, img
		report.Items[i] = generation.ImageAnalysis{Index: i, Filename: img.Filename}
		g.Go(func() error {
			desc, err := s.describeImage(gctx, img)
			// each goroutine owns its slot
			report.Items[i].Description = desc
			report.Items[i].Err = err
			if err != nil {
				metrics.ImageAnalyses.WithLabelValues("error").Inc()
				log.Warn().Err(err).Int("image", i).Int("bytes", len(img.Data)).Msg("image analysis failed")
			} else {
				metrics.ImageAnalyses.WithLabelValues("success").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (s *Service) describeImage(ctx context.Context, img generation.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("empty image upload")
	}

	dataURL := "data:" + img.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: ImageAnalysisInstruction},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    dataURL,
					Detail: schema.ImageURLDetailAuto,
				},
			},
		},
	}

	var description string
	err := s.withRetry(ctx, "analyze image", func(callCtx context.Context) error {
		resp, err := s.visionModel.Generate(callCtx, []*schema.Message{msg})
		if err != nil {
			return err
		}
		if resp == nil {
			return errors.New("empty vision response")
		}
		description = resp.Content
		return nil
	})
	return description, err
}

func (s *Service) chainInput(description string, report generation.AnalysisReport) map[string]any {
	return map[string]any{
		"system": SystemPrompt,
		"prompt": BuildWebsitePrompt(description, report.Text()),
	}
}

// withRetry runs fn with a per-attempt deadline, retrying up to MaxRetries times.
// Cancellation of the parent context stops retries immediately.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &GenerationError{Op: op, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			log.Debug().Str("op", op).Int("attempt", attempt+1).Msg("retrying generation call")
		}

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		}
		lastErr = fn(callCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return &GenerationError{Op: op, Err: lastErr}
}

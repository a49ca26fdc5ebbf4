package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// Gemini calls the Generative Language API for both analysis and images.
type Gemini struct {
	svc           *generativelanguage.Service
	analysisModel string
	imageModel    string
	timeout       time.Duration
	log           *logger.Logger
}

func NewGemini(ctx context.Context, cfg config.GenAIConfig, log *logger.Logger, opts ...option.ClientOption) (*Gemini, error) {
	if cfg.APIKey == "" && len(opts) == 0 {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	if cfg.APIKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	}
	svc, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generative language client: %w", err)
	}
	return &Gemini{
		svc:           svc,
		analysisModel: cfg.AnalysisModel,
		imageModel:    cfg.ImageModel,
		timeout:       cfg.Timeout,
		log:           log.With("service", "gemini"),
	}, nil
}

func modelName(m string) string {
	if strings.HasPrefix(m, "models/") {
		return m
	}
	return "models/" + m
}

func (g *Gemini) Analyze(ctx context.Context, media []byte, mimeType string) (storyboard.Analysis, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role: "user",
			Parts: []*generativelanguage.Part{
				{InlineData: &generativelanguage.Blob{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(media)}},
				{Text: analysisPrompt},
			},
		}},
		GenerationConfig: &generativelanguage.GenerationConfig{ResponseMimeType: "application/json"},
	}

	start := time.Now()
	resp, err := g.svc.Models.GenerateContent(modelName(g.analysisModel), req).Context(ctx).Do()
	if err != nil {
		return storyboard.Analysis{}, fmt.Errorf("%w: %v", storyboard.ErrAnalysis, err)
	}

	var text strings.Builder
	for _, p := range firstParts(resp) {
		text.WriteString(p.Text)
	}
	a, err := parseAnalysis(text.String())
	if err != nil {
		return a, err
	}
	g.log.Info("analysis complete", "model", g.analysisModel, "scenes", len(a.Storyboard), "took", time.Since(start))
	return a, nil
}

func (g *Gemini) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: StylePrompt(prompt)}},
		}},
		GenerationConfig: &generativelanguage.GenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	resp, err := g.svc.Models.GenerateContent(modelName(g.imageModel), req).Context(ctx).Do()
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", storyboard.ErrImageGeneration, err)
	}
	for _, p := range firstParts(resp) {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return Image{}, fmt.Errorf("%w: decode inline image: %v", storyboard.ErrImageGeneration, err)
		}
		mime := p.InlineData.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return Image{Data: data, MimeType: mime}, nil
	}
	return Image{}, fmt.Errorf("%w: no image in response", storyboard.ErrImageGeneration)
}

func (g *Gemini) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func firstParts(resp *generativelanguage.GenerateContentResponse) []*generativelanguage.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

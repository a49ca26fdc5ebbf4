package genai

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/storyboard"
)

const pollinationsBase = "https://image.pollinations.ai"

// Pollinations fetches images from Pollinations.ai. No key needed.
type Pollinations struct {
	BaseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func NewPollinations(log *logger.Logger) *Pollinations {
	return &Pollinations{
		BaseURL:    pollinationsBase,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		log:        log.With("service", "pollinations"),
	}
}

func (p *Pollinations) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	styled := StylePrompt(prompt)
	imageURL := fmt.Sprintf("%s/prompt/%s?width=1920&height=1080&nologo=true&model=flux&seed=%d",
		strings.TrimRight(p.BaseURL, "/"), url.PathEscape(styled), seedFor(prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", storyboard.ErrImageGeneration, err)
	}
	req.Header.Set("User-Agent", "storyreel/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", storyboard.ErrImageGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("%w: pollinations status %d", storyboard.ErrImageGeneration, resp.StatusCode)
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		return Image{}, fmt.Errorf("%w: unexpected content type %q", storyboard.ErrImageGeneration, mime)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Image{}, fmt.Errorf("%w: read body: %v", storyboard.ErrImageGeneration, err)
	}
	p.log.Debug("image fetched", "bytes", len(data))
	return Image{Data: data, MimeType: strings.TrimSpace(strings.Split(mime, ";")[0])}, nil
}

// seedFor keeps the same prompt on the same seed so regenerating after an
// edit is the only way to get a different picture.
func seedFor(prompt string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return h.Sum32() % 1_000_000
}

package genai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ivlev/storyreel/internal/storyboard"
)

// parseAnalysis decodes the model's JSON answer. Models sometimes wrap JSON
// in a markdown fence even when asked not to.
func parseAnalysis(text string) (storyboard.Analysis, error) {
	var a storyboard.Analysis
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if body == "" {
		return a, fmt.Errorf("%w: empty response", storyboard.ErrAnalysis)
	}
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return a, fmt.Errorf("%w: decode response: %v", storyboard.ErrAnalysis, err)
	}
	if len(a.Storyboard) == 0 {
		return a, fmt.Errorf("%w: %v", storyboard.ErrAnalysis, errors.New("storyboard is empty"))
	}
	return a, nil
}

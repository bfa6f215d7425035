// Package vision turns composed batches into alt text: it builds the
// multi-image prompt, calls the model once per batch, and parses the
// numbered response back onto individual images.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/alttext-cli/internal/model"
	"github.com/sells-group/alttext-cli/pkg/anthropic"
)

const systemPrompt = `You are an expert at writing accessible, SEO-friendly alt text for images.

Your task is to generate concise, descriptive alt text that:
1. Accurately describes the visual content of the image
2. Considers the context of the page (title, headings, adjacent text)
3. Is concise (typically 1-2 sentences, max 125 characters when possible)
4. Follows web accessibility best practices
5. Avoids redundant phrases like "image of" or "picture of"
6. Focuses on what's important and relevant to the page context`

// ParseFailure is recorded when the model response has no line for an image.
const ParseFailure = "Failed to parse alt text from response"

// Item is one image submitted for inference.
type Item struct {
	Key       string // canonical dedup key, carried through to the result
	MediaType string
	Data      []byte
	Context   model.PageContext
}

// Result is the outcome for one submitted image.
type Result struct {
	Key     string
	AltText string
	Err     string // empty on success
}

// Usage is the token consumption of one generation call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Generator produces alt text for batches of images via one model call each.
type Generator struct {
	client            anthropic.Client
	model             string
	instructions      string
	maxTokensPerImage int64
}

// NewGenerator creates a Generator. Instructions are site-specific guidance
// appended to the system prompt; empty is fine.
func NewGenerator(client anthropic.Client, modelID, instructions string, maxTokensPerImage int64) *Generator {
	if maxTokensPerImage <= 0 {
		maxTokensPerImage = 300
	}
	return &Generator{
		client:            client,
		model:             modelID,
		instructions:      instructions,
		maxTokensPerImage: maxTokensPerImage,
	}
}

// Generate submits a batch of images in a single message and returns one
// result per item, in input order. A transport or API error is returned to
// the caller for retry; a per-image parse miss is reported in the Result.
func (g *Generator) Generate(ctx context.Context, items []Item) ([]Result, Usage, error) {
	if len(items) == 0 {
		return nil, Usage{}, nil
	}

	req := anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokensPerImage * int64(len(items)),
		System:    g.systemBlocks(),
		Blocks:    buildBlocks(items),
	}

	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil {
		return nil, Usage{}, err
	}

	usage := Usage{
		InputTokens:  resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	resp.Usage.LogCost(g.model, "alt_text")

	results := parseResponse(resp.Text(), items)
	misses := 0
	for _, r := range results {
		if r.Err != "" {
			misses++
		}
	}
	if misses > 0 {
		zap.L().Warn("vision: response missing alt text lines",
			zap.Int("batch_size", len(items)),
			zap.Int("missing", misses))
	}
	return results, usage, nil
}

func (g *Generator) systemBlocks() []anthropic.SystemBlock {
	prompt := systemPrompt
	if g.instructions != "" {
		prompt += "\n\nAdditional instructions for this website:\n" + g.instructions
	}
	// The prompt is identical across every batch of a run, so cache it.
	return []anthropic.SystemBlock{{
		Text:         prompt,
		CacheControl: &anthropic.CacheControl{TTL: "5m"},
	}}
}

// buildBlocks interleaves context text and images, numbered from 1, with an
// instruction to answer one line per image in "Image N: ..." form.
func buildBlocks(items []Item) []anthropic.ContentBlockParam {
	blocks := make([]anthropic.ContentBlockParam, 0, 2*len(items)+2)

	intro := fmt.Sprintf("Please generate alt text for the following %d image(s). ", len(items)) +
		"For each image, provide ONLY the alt text on a single line, " +
		"in the format 'Image 1:', 'Image 2:', etc.\n\n"
	blocks = append(blocks, anthropic.TextBlock(intro))

	for i, item := range items {
		var parts []string
		if item.Context.Title != "" {
			parts = append(parts, "Page title: "+item.Context.Title)
		}
		if item.Context.H1 != "" {
			parts = append(parts, "Page heading: "+item.Context.H1)
		}
		if item.Context.AdjacentText != "" {
			parts = append(parts, "Adjacent text: "+item.Context.AdjacentText)
		}

		contextText := fmt.Sprintf("\n--- Image %d Context ---\n", i+1)
		if len(parts) > 0 {
			contextText += strings.Join(parts, "\n") + "\n"
		} else {
			contextText += "No additional context available.\n"
		}

		blocks = append(blocks,
			anthropic.TextBlock(contextText),
			anthropic.ImageBlock(item.MediaType, base64.StdEncoding.EncodeToString(item.Data)),
		)
	}

	blocks = append(blocks, anthropic.TextBlock(
		"\n\nPlease provide the alt text for each image, one per line, in the format: 'Image 1: [alt text]'"))
	return blocks
}

// parseResponse maps "Image N: ..." lines back to items by number. Items
// with no matching line get a ParseFailure result.
func parseResponse(text string, items []Item) []Result {
	altTexts := make(map[int]string)
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for i := 1; i <= len(items); i++ {
			prefix := fmt.Sprintf("Image %d:", i)
			if strings.HasPrefix(line, prefix) {
				altTexts[i-1] = strings.TrimSpace(line[len(prefix):])
				break
			}
		}
	}

	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{Key: item.Key, AltText: altTexts[i]}
		if results[i].AltText == "" {
			results[i] = Result{Key: item.Key, Err: ParseFailure}
		}
	}
	return results
}

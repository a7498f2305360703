// Package classify assigns a category and extracts a stock recommendation
// from ingested articles using an LLM.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/newstrust/trust-engine/internal/model"
)

const systemPrompt = `You are a financial news analyst. Given a news article headline and summary, classify it and extract any stock recommendation.

Rules:
1. Pick exactly one category from: Finance, Markets, Economy, Policy, Company News, Commodities, Crypto, Other
2. If the article implies a tradeable call on a specific listed company, set "symbol" to its ticker; otherwise set it to ""
3. Rewrite the summary in one neutral sentence: keep numbers, names, and dates, drop urgency and judgment

Output as JSON only, no other text:
{
  "category": "one of the categories above",
  "symbol": "ticker or empty string",
  "summary": "neutral one-sentence summary"
}`

// Result is one classified article.
type Result struct {
	Category string `json:"category"`
	Symbol   string `json:"symbol"`
	Summary  string `json:"summary"`
}

// Categorizer classifies articles via the OpenAI chat API.
type Categorizer struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewCategorizer creates a classifier for the given API key and model name.
func NewCategorizer(apiKey, modelName string) *Categorizer {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	m := openai.ChatModel(modelName)
	if modelName == "" {
		m = openai.ChatModelGPT4oMini
	}
	return &Categorizer{client: &client, model: m}
}

// Categorize classifies one article.
func (c *Categorizer) Categorize(ctx context.Context, article *model.Article) (*Result, error) {
	userPrompt := fmt.Sprintf("Headline: %s\nSummary: %s", article.Title, article.Summary)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	content := cleanJSONResponse(resp.Choices[0].Message.Content)

	var parsed Result
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, content: %s", err, content)
	}
	if parsed.Category == "" {
		parsed.Category = "Other"
	}

	return &parsed, nil
}

// cleanJSONResponse strips markdown fences and surrounding prose that models
// sometimes wrap around JSON output.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

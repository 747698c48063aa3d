package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/core"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

type GeminiLLM struct {
	client    *genai.Client
	modelName string
	sampling  core.SamplingConfig
}

var _ core.LLMProvider = (*GeminiLLM)(nil)

func NewGeminiLLM(ctx context.Context, apiKey, modelName string, sampling core.SamplingConfig) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName, sampling: sampling.WithDefaults()}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate sends the conversation as chat history. System turns become the
// system instruction and the last user turn is the message being answered.
func (g *GeminiLLM) Generate(ctx context.Context, turns []models.Turn, cfg core.SamplingConfig) (string, error) {
	cfg = cfg.Merge(g.sampling)

	m := g.client.GenerativeModel(g.modelName)
	m.SetMaxOutputTokens(int32(*cfg.MaxLength))
	m.SetTemperature(float32(*cfg.Temperature))
	m.SetTopK(int32(*cfg.TopK))
	m.SetTopP(float32(*cfg.TopP))

	history, system, last := geminiHistory(turns)
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}

	cs := m.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", apperr.Connection(fmt.Errorf("gemini generate: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func geminiHistory(turns []models.Turn) (history []*genai.Content, system []string, last string) {
	lastUser := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			lastUser = i
			break
		}
	}
	for i, t := range turns {
		switch {
		case i == lastUser:
			last = t.Content
		case t.Role == models.RoleSystem:
			system = append(system, t.Content)
		case t.Role == models.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(t.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(t.Content)}})
		}
	}
	return history, system, last
}

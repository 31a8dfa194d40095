package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"docqa/types"
)

// NoInformation is what the model is told to answer when the context does not help.
const NoInformation = "No information for this request"

const systemPrompt = `You are a smart multilang assistant, responding in the language of the question.
Answer clearly and to the point, without adding any additional information.
If the context is empty or doesn't contain any information to answer, say '` + NoInformation + `'.
Don't add introductions like 'Of course!' or 'Here's the answer:'`

// Generator produces an answer to question from the retrieved context.
type Generator interface {
	GenerateAnswer(ctx context.Context, contextText, question string) (string, error)
}

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

// OllamaGenerator calls the Ollama generate API.
type OllamaGenerator struct {
	client *http.Client
	url    string
	model  string
	logger zerolog.Logger
}

func NewOllamaGenerator(cfg types.LLMConfig, logger zerolog.Logger) *OllamaGenerator {
	return &OllamaGenerator{
		client: &http.Client{Timeout: 5 * time.Minute},
		url:    cfg.Url,
		model:  cfg.Model,
		logger: logger,
	}
}

func BuildPrompt(contextText, question string) string {
	if contextText == "" {
		contextText = "empty"
	}
	return fmt.Sprintf(`Answer to the questions based on the given context. If there is no information in provided context or context is empty then answer '%s'. Nothing else.
Context:
%s
Question:
%s
Answer:`, NoInformation, contextText, question)
}

func (g *OllamaGenerator) GenerateAnswer(ctx context.Context, contextText, question string) (string, error) {
	start := time.Now()
	defer func() {
		g.logger.Info().Str("stage", "llm").Dur("took", time.Since(start)).Msg("LLM answer done")
	}()

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  g.model,
		System: systemPrompt,
		Prompt: BuildPrompt(contextText, question),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	g.logger.Debug().
		Str("stage", "llm").
		Int("prompt_tokens", CountTokens(string(reqBody))).
		Int("prompt_bytes", len(reqBody)).
		Msg("sending prompt")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return genResp.Response, nil
	}

	// Потоковый ответ: соберём всё в строку
	var output bytes.Buffer
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", fmt.Errorf("decode llm stream: %w", err)
		}
		output.WriteString(chunk.Response)
	}
	return output.String(), nil
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// CountTokens approximates the prompt size with the cl100k tokenizer. It falls
// back to a whitespace count when the tokenizer cannot be loaded.
func CountTokens(text string) int {
	encOnce.Do(func() {
		enc, encErr = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if encErr != nil {
		return len(bytes.Fields([]byte(text)))
	}
	return len(enc.Encode(text, nil, nil))
}

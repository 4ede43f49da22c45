package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/beetledev/beetle-engine/engine/answer"
)

// ChatClient implements answer.ChatCompleter using Ollama's chat API.
type ChatClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewChatClient(baseURL, model string) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Chat implements answer.ChatCompleter.
func (c *ChatClient) Chat(ctx context.Context, in answer.ChatRequest) (answer.ChatResponse, error) {
	options := map[string]any{
		"num_predict": in.MaxTokens,
	}
	if in.Temperature > 0 {
		options["temperature"] = in.Temperature
	}
	if in.TopP > 0 {
		options["top_p"] = in.TopP
	}
	if in.TopK > 0 {
		options["top_k"] = in.TopK
	}

	body, _ := json.Marshal(ollamaChatReq{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: in.System},
			{Role: "user", Content: in.User},
		},
		Stream:  false,
		Options: options,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return answer.ChatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return answer.ChatResponse{}, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return answer.ChatResponse{}, fmt.Errorf("ollama chat: status %d", resp.StatusCode)
	}

	var result ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return answer.ChatResponse{}, fmt.Errorf("ollama chat decode: %w", err)
	}

	return answer.ChatResponse{
		Text:       result.Message.Content,
		TokensUsed: result.PromptEvalCount + result.EvalCount,
		Model:      result.Model,
	}, nil
}

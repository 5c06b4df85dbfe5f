package backend

// OpenAIMessage is one chat-completions turn. Report prompts are sent as a
// single user turn with the report and history already inlined.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIRequest is a chat-completions request for OpenAI-compatible servers.
type OpenAIRequest struct {
	Model     string          `json:"model"`
	Messages  []OpenAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

// NewOpenAIPrompt wraps prompt as the only user turn of a request.
func NewOpenAIPrompt(model, prompt string, maxTokens int) OpenAIRequest {
	return OpenAIRequest{
		Model:     model,
		Messages:  []OpenAIMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	}
}

// OpenAIResponse keeps the first-choice text, the finish reason and token usage.
type OpenAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      OpenAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

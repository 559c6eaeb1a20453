package httpapi

// chatMessage mirrors the OpenAI chat-completions message shape. Content can
// be a plain string or a list of typed parts (text / image_url), matching
// what multi-modal clients send.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// responseFormat mirrors the OpenAI response_format field. It is decoded into
// chatRequest and not used further; the answer always follows the run's own
// schema.
type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// chatRequest is the request body for POST /v1/chat/completions.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	// Effort selects the research run's resource budget: "low", "medium"
	// (default), or "high".
	Effort string `json:"reasoning_effort"`

	// MaxCompletionTokens, BudgetTokens and MaxAttempts override the
	// effort-derived budget piecemeal; zero means "use the effort default".
	MaxCompletionTokens int `json:"max_completion_tokens"`
	BudgetTokens        int `json:"budget_tokens"`
	MaxAttempts         int `json:"max_attempts"`

	ResponseFormat *responseFormat `json:"response_format,omitempty"`

	// NoDirectAnswer disables the trivial first-step answer bypass, forcing
	// every answer through at least one research step.
	NoDirectAnswer bool `json:"no_direct_answer"`

	// MaxReturnedURLs caps how many discovered URLs the usage block reports
	// (default 100, hard cap 300).
	MaxReturnedURLs int `json:"max_returned_urls"`

	BoostHostnames []string `json:"boost_hostnames,omitempty"`
	BadHostnames   []string `json:"bad_hostnames,omitempty"`
	OnlyHostnames  []string `json:"only_hostnames,omitempty"`
}

// streamDelta is the payload carried by each SSE chunk's choices[0].delta.
type streamDelta struct {
	Type string `json:"type"`
	// URL carries a Visit target on the one delta emitted per target, ahead
	// of that step's think text.
	URL         string `json:"url,omitempty"`
	Content     string `json:"content,omitempty"`
	Annotations []any  `json:"annotations,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type usageBlock struct {
	TotalTokens   int      `json:"total_tokens"`
	QueriesIssued int      `json:"queries_issued"`
	NumURLs       int      `json:"num_urls"`
	DuplicateURLs int      `json:"duplicate_urls"`
	VisitedURLs   []string `json:"visited_urls,omitempty"`
	ReadURLs      []string `json:"read_urls,omitempty"`
}

type streamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *usageBlock    `json:"usage,omitempty"`
}

// chatCompletionMessage is the non-streaming response's message body. Type
// is "error" on a fatal request error, in which case Content carries the
// error text instead of an answer.
type chatCompletionMessage struct {
	Role    string `json:"role"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

type chatCompletionChoice struct {
	Index        int                    `json:"index"`
	Message      chatCompletionMessage  `json:"message"`
	FinishReason string                 `json:"finish_reason"`
}

// chatCompletionResponse is the non-streaming (stream:false) response body.
type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
	Usage   *usageBlock             `json:"usage,omitempty"`
}

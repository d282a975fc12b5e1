package dify

// Response modes accepted by the workflows endpoint.
const (
	ModeStreaming = "streaming"
	ModeBlocking  = "blocking"
)

// WorkflowRequest is the body of POST /workflows/run.
type WorkflowRequest struct {
	Inputs       any    `json:"inputs"`
	ResponseMode string `json:"response_mode"`
	User         string `json:"user"`
}

// ArticleInputs are the inputs of the article generation workflow.
type ArticleInputs struct {
	Prompt  string `json:"prompt"`
	Style   string `json:"style"`
	Context string `json:"context"`
}

// URLInputs are the inputs of the URL-to-Markdown workflow.
type URLInputs struct {
	URL string `json:"url"`
}

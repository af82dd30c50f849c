package llm

import "context"

// preset describes an OpenAI-compatible hosted API.
type preset struct {
	baseURL      string
	pathPrefix   string
	defaultModel string
}

// presets lists the OpenAI-compatible services by provider name.
//
//	openai      text-embedding-3-small by default; chat models via ChatRequest.Model
//	groq        fast hosted Llama models, chat only
//	gemini      OpenAI-compatible endpoint without the /v1 prefix
//	custom      any OpenAI-compatible server; BaseURL is required
var presets = map[string]preset{
	"openai":     {baseURL: "https://api.openai.com", pathPrefix: "/v1", defaultModel: "text-embedding-3-small"},
	"groq":       {baseURL: "https://api.groq.com/openai", pathPrefix: "/v1", defaultModel: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai", pathPrefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", pathPrefix: ""},
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1"},
	"custom":     {pathPrefix: "/v1"},
}

func newCompatFromPreset(cfg Config, p preset) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.defaultModel
	}
	return &compatProvider{base: newCompatClient(cfg, p.pathPrefix)}
}

// NewOpenAICompat creates a generic OpenAI-compatible provider.
func NewOpenAICompat(cfg Config) Provider {
	return newCompatFromPreset(cfg, presets["custom"])
}

type compatProvider struct {
	base compatClient
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

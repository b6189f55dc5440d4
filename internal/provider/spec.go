package provider

import gateway "github.com/eugener/bifrost/internal"

// OAuthKind selects the refresh flow for OAuth-backed providers.
type OAuthKind int

const (
	OAuthNone OAuthKind = iota
	OAuthGoogle
	OAuthAnthropic
	OAuthOpenAI
)

// Spec is the static description of one upstream backend: its native dialect,
// endpoint shape, and auth model. Everything dynamic (credentials, disallow
// state) lives in the pool.
type Spec struct {
	Name    string
	Dialect gateway.Dialect
	BaseURL string // overridable per credential via meta base_url
	OAuth   OAuthKind

	// Wire-shape tweaks.
	CloudCode    bool   // wrap bodies in {"model","project","request"} and unwrap "response"
	Vertex       bool   // regional URL from the credential, service-account JWT auth
	PinV1Beta    bool   // always call the v1beta Gemini surface
	Instructions bool   // inject the instructions template when the body has none
	LocalCount   bool   // count-tokens estimated locally, upstream has no endpoint
	StaticModels bool   // model catalog served from the baked-in list
	BetaHeader   string // anthropic-beta value for OAuth Claude calls
	UsageURL     string // account usage endpoint, "" = unsupported
}

// Specs is the fixed provider catalog. Adding a provider means adding a row
// here plus, when its wire shape is new, a family hook.
var Specs = []Spec{
	{Name: "openai", Dialect: gateway.DialectOpenAIChat, BaseURL: "https://api.openai.com", LocalCount: true},
	{Name: "nvidia", Dialect: gateway.DialectOpenAIChat, BaseURL: "https://integrate.api.nvidia.com", LocalCount: true},
	{Name: "deepseek", Dialect: gateway.DialectOpenAIChat, BaseURL: "https://api.deepseek.com", LocalCount: true},

	{Name: "claude", Dialect: gateway.DialectClaude, BaseURL: "https://api.anthropic.com"},
	{Name: "claudecode", Dialect: gateway.DialectClaude, BaseURL: "https://api.anthropic.com",
		OAuth: OAuthAnthropic, BetaHeader: "oauth-2025-04-20",
		UsageURL: "https://api.anthropic.com/api/oauth/usage"},

	{Name: "aistudio", Dialect: gateway.DialectGemini, BaseURL: "https://generativelanguage.googleapis.com"},
	{Name: "vertex", Dialect: gateway.DialectGemini, Vertex: true, PinV1Beta: false, StaticModels: true},
	{Name: "vertexexpress", Dialect: gateway.DialectGemini, BaseURL: "https://aiplatform.googleapis.com",
		PinV1Beta: true, StaticModels: true},
	{Name: "geminicli", Dialect: gateway.DialectGemini, BaseURL: "https://cloudcode-pa.googleapis.com",
		OAuth: OAuthGoogle, CloudCode: true, StaticModels: true},
	{Name: "antigravity", Dialect: gateway.DialectGemini, BaseURL: "https://cloudcode-pa.googleapis.com",
		OAuth: OAuthGoogle, CloudCode: true, StaticModels: true},

	{Name: "codex", Dialect: gateway.DialectOpenAIResponses, BaseURL: "https://chatgpt.com/backend-api/codex",
		OAuth: OAuthOpenAI, Instructions: true, LocalCount: true, StaticModels: true,
		UsageURL: "https://chatgpt.com/backend-api/wham/usage"},
}

// SpecFor returns the spec for a provider name.
func SpecFor(name string) (Spec, bool) {
	for _, s := range Specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

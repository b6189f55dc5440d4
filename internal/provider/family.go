package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/sse"
	"github.com/tidwall/gjson"
)

// family builds native wire requests for one upstream dialect and, where the
// backend wraps payloads in an envelope, unwraps responses.
type family interface {
	build(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error)
	unwrap(body []byte) []byte
	unwrapStream(rc io.ReadCloser) io.ReadCloser
}

func familyFor(d gateway.Dialect) family {
	switch d {
	case gateway.DialectGemini:
		return geminiFamily{}
	case gateway.DialectClaude:
		return claudeFamily{}
	case gateway.DialectOpenAIChat:
		return chatFamily{}
	}
	return responsesFamily{}
}

// passBody is the no-op unwrap shared by non-enveloped backends.
type passBody struct{}

func (passBody) unwrap(body []byte) []byte                 { return body }
func (passBody) unwrapStream(rc io.ReadCloser) io.ReadCloser { return rc }

func newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// --- Gemini family: aistudio, vertexexpress, vertex, geminicli, antigravity ---

type geminiFamily struct{}

func (geminiFamily) build(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	spec := h.spec
	var out *http.Request
	var err error
	switch {
	case spec.CloudCode:
		out, err = buildCloudCode(ctx, h, cred, req)
	case spec.Vertex:
		out, err = buildVertex(ctx, cred, req)
	default:
		out, err = buildGeminiPlain(ctx, h, cred, req)
	}
	if err != nil {
		return nil, err
	}

	if spec.OAuth != OAuthNone || spec.Vertex {
		tok, terr := h.tokens.AccessToken(ctx, spec, cred)
		if terr != nil {
			return nil, terr
		}
		out.Header.Set("Authorization", "Bearer "+tok)
	} else {
		out.Header.Set("x-goog-api-key", cred.SecretString("api_key"))
	}
	return out, nil
}

func buildGeminiPlain(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	version := "v1"
	if req.Version == gateway.GeminiV1Beta || h.spec.PinV1Beta {
		version = "v1beta"
	}
	base := h.baseURL(cred) + "/" + version
	switch req.Op {
	case gateway.OpGenerate:
		return newRequest(ctx, http.MethodPost, base+"/models/"+req.Model+":generateContent", req.Body)
	case gateway.OpGenerateStream:
		return newRequest(ctx, http.MethodPost, base+"/models/"+req.Model+":streamGenerateContent?alt=sse", req.Body)
	case gateway.OpCountTokens:
		return newRequest(ctx, http.MethodPost, base+"/models/"+req.Model+":countTokens", req.Body)
	case gateway.OpModelsList:
		return newRequest(ctx, http.MethodGet, base+"/models", nil)
	case gateway.OpModelsGet:
		return newRequest(ctx, http.MethodGet, base+"/models/"+req.Model, nil)
	}
	return nil, fmt.Errorf("%w: %s cannot serve %s", gateway.ErrBadRequest, h.spec.Name, req.Op)
}

func buildVertex(ctx context.Context, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	project := cred.SecretString("project")
	if project == "" {
		return nil, fmt.Errorf("vertex credential %d: missing project", cred.ID)
	}
	location := cred.SecretString("location")
	if location == "" {
		location = "global"
	}
	host := "https://aiplatform.googleapis.com"
	if location != "global" {
		host = "https://" + location + "-aiplatform.googleapis.com"
	}
	base := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s",
		host, project, location, req.Model)

	switch req.Op {
	case gateway.OpGenerate:
		return newRequest(ctx, http.MethodPost, base+":generateContent", req.Body)
	case gateway.OpGenerateStream:
		return newRequest(ctx, http.MethodPost, base+":streamGenerateContent?alt=sse", req.Body)
	case gateway.OpCountTokens:
		return newRequest(ctx, http.MethodPost, base+":countTokens", req.Body)
	}
	return nil, fmt.Errorf("%w: vertex cannot serve %s", gateway.ErrBadRequest, req.Op)
}

// buildCloudCode wraps the Gemini body in the cloudcode envelope.
func buildCloudCode(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	project := cred.SecretString("project")
	if project == "" {
		project = cred.MetaString("project")
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{
		"model":   json.RawMessage(fmt.Sprintf("%q", req.Model)),
		"project": json.RawMessage(fmt.Sprintf("%q", project)),
		"request": json.RawMessage(req.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("wrap cloudcode request: %w", err)
	}
	base := h.baseURL(cred) + "/v1internal"
	switch req.Op {
	case gateway.OpGenerate:
		return newRequest(ctx, http.MethodPost, base+":generateContent", wrapped)
	case gateway.OpGenerateStream:
		return newRequest(ctx, http.MethodPost, base+":streamGenerateContent?alt=sse", wrapped)
	case gateway.OpCountTokens:
		return newRequest(ctx, http.MethodPost, base+":countTokens", wrapped)
	}
	return nil, fmt.Errorf("%w: %s cannot serve %s", gateway.ErrBadRequest, h.spec.Name, req.Op)
}

// unwrap strips the cloudcode {"response": ...} envelope when present.
func (geminiFamily) unwrap(body []byte) []byte {
	if r := gjson.GetBytes(body, "response"); r.Exists() {
		return []byte(r.Raw)
	}
	return body
}

func (geminiFamily) unwrapStream(rc io.ReadCloser) io.ReadCloser {
	// Non-enveloped Gemini backends pass frames through untouched; the
	// envelope check per frame is cheap enough to share one path.
	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		var dec sse.Decoder
		write := func(frames []sse.Frame) bool {
			for _, f := range frames {
				if !f.Done && len(f.Data) > 0 {
					if r := gjson.GetBytes(f.Data, "response"); r.Exists() {
						f.Data = []byte(r.Raw)
					}
				}
				if _, err := pw.Write(sse.Encode(f)); err != nil {
					return false
				}
			}
			return true
		}
		buf := make([]byte, 4096)
		for {
			n, err := rc.Read(buf)
			if n > 0 && !write(dec.Feed(buf[:n])) {
				return
			}
			if err != nil {
				write(dec.Flush())
				if err == io.EOF {
					pw.Close()
				} else {
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()
	return pr
}

// --- Claude family: claude, claudecode ---

type claudeFamily struct{ passBody }

func (claudeFamily) build(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	base := h.baseURL(cred)
	var out *http.Request
	var err error
	switch req.Op {
	case gateway.OpGenerate, gateway.OpGenerateStream:
		out, err = newRequest(ctx, http.MethodPost, base+"/v1/messages", req.Body)
	case gateway.OpCountTokens:
		out, err = newRequest(ctx, http.MethodPost, base+"/v1/messages/count_tokens", req.Body)
	case gateway.OpModelsList:
		out, err = newRequest(ctx, http.MethodGet, base+"/v1/models", nil)
	case gateway.OpModelsGet:
		out, err = newRequest(ctx, http.MethodGet, base+"/v1/models/"+req.Model, nil)
	default:
		return nil, fmt.Errorf("%w: %s cannot serve %s", gateway.ErrBadRequest, h.spec.Name, req.Op)
	}
	if err != nil {
		return nil, err
	}

	out.Header.Set("anthropic-version", "2023-06-01")
	if h.spec.OAuth != OAuthNone {
		tok, terr := h.tokens.AccessToken(ctx, h.spec, cred)
		if terr != nil {
			return nil, terr
		}
		out.Header.Set("Authorization", "Bearer "+tok)
		out.Header.Set("anthropic-beta", h.spec.BetaHeader)
		out.Header.Set("User-Agent", "claude-cli/1.0.119 (external, cli)")
	} else {
		out.Header.Set("x-api-key", cred.SecretString("api_key"))
	}
	return out, nil
}

// --- OpenAI chat family: openai, nvidia, deepseek ---

type chatFamily struct{ passBody }

func (chatFamily) build(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	base := h.baseURL(cred)
	var out *http.Request
	var err error
	switch req.Op {
	case gateway.OpGenerate, gateway.OpGenerateStream:
		out, err = newRequest(ctx, http.MethodPost, base+"/v1/chat/completions", req.Body)
	case gateway.OpModelsList:
		out, err = newRequest(ctx, http.MethodGet, base+"/v1/models", nil)
	case gateway.OpModelsGet:
		out, err = newRequest(ctx, http.MethodGet, base+"/v1/models/"+req.Model, nil)
	default:
		return nil, fmt.Errorf("%w: %s cannot serve %s", gateway.ErrBadRequest, h.spec.Name, req.Op)
	}
	if err != nil {
		return nil, err
	}
	out.Header.Set("Authorization", "Bearer "+cred.SecretString("api_key"))
	return out, nil
}

// --- OpenAI responses family: codex ---

// codexInstructions is injected when a responses body carries none; the
// backend rejects instruction-less sessions.
const codexInstructions = "You are Codex, based on GPT-5. You are running as a coding agent in the Codex CLI on a user's computer."

type responsesFamily struct{ passBody }

func (responsesFamily) build(ctx context.Context, h *Handle, cred *gateway.Credential, req *gateway.ProxyRequest) (*http.Request, error) {
	if req.Op != gateway.OpGenerate && req.Op != gateway.OpGenerateStream {
		return nil, fmt.Errorf("%w: %s cannot serve %s", gateway.ErrBadRequest, h.spec.Name, req.Op)
	}

	body := req.Body
	if h.spec.Instructions && !gjson.GetBytes(body, "instructions").Exists() {
		var err error
		if body, err = setInstructions(body, codexInstructions); err != nil {
			return nil, err
		}
	}
	out, err := newRequest(ctx, http.MethodPost, h.baseURL(cred)+"/responses", body)
	if err != nil {
		return nil, err
	}

	tok, err := h.tokens.AccessToken(ctx, h.spec, cred)
	if err != nil {
		return nil, err
	}
	out.Header.Set("Authorization", "Bearer "+tok)
	out.Header.Set("OpenAI-Beta", "responses=experimental")
	if acct := cred.SecretString("account_id"); acct != "" {
		out.Header.Set("chatgpt-account-id", acct)
	}
	return out, nil
}

func setInstructions(body []byte, instructions string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: parse responses body: %v", gateway.ErrBadRequest, err)
	}
	raw, _ := json.Marshal(instructions)
	m["instructions"] = raw
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("inject instructions: %w", err)
	}
	return out, nil
}

package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
)

// Baked-in model catalogs for backends that expose no list endpoint. Served
// in the provider's native dialect and translated like any upstream body.

var geminiStaticModels = []gemini.Model{
	geminiStatic("gemini-2.5-pro", "Gemini 2.5 Pro", 1048576, 65536),
	geminiStatic("gemini-2.5-flash", "Gemini 2.5 Flash", 1048576, 65536),
	geminiStatic("gemini-2.5-flash-lite", "Gemini 2.5 Flash Lite", 1048576, 65536),
	geminiStatic("gemini-2.0-flash", "Gemini 2.0 Flash", 1048576, 8192),
}

func geminiStatic(id, display string, in, out int64) gemini.Model {
	return gemini.Model{
		Name:             "models/" + id,
		BaseModelID:      id,
		Version:          "001",
		DisplayName:      display,
		InputTokenLimit:  in,
		OutputTokenLimit: out,
		SupportedGenerationMethods: []string{
			"generateContent", "streamGenerateContent", "countTokens",
		},
	}
}

var codexStaticModels = []openai.Model{
	{ID: "gpt-5", Object: "model", Created: 1722902400, OwnedBy: "openai"},
	{ID: "gpt-5-codex", Object: "model", Created: 1722902400, OwnedBy: "openai"},
	{ID: "gpt-5-minimal", Object: "model", Created: 1722902400, OwnedBy: "openai"},
}

// staticModelBody renders the catalog for one models operation in the
// handle's native dialect.
func (h *Handle) staticModelBody(op gateway.Operation, model string) ([]byte, error) {
	if h.spec.Dialect == gateway.DialectGemini {
		if op == gateway.OpModelsList {
			return json.Marshal(gemini.ModelList{Models: geminiStaticModels})
		}
		id := strings.TrimPrefix(model, "models/")
		for _, m := range geminiStaticModels {
			if m.BaseModelID == id {
				return json.Marshal(m)
			}
		}
		return nil, fmt.Errorf("%w: model %q", gateway.ErrNotFound, model)
	}

	if op == gateway.OpModelsList {
		return json.Marshal(openai.ModelList{Object: "list", Data: codexStaticModels})
	}
	for _, m := range codexStaticModels {
		if m.ID == model {
			return json.Marshal(m)
		}
	}
	return nil, fmt.Errorf("%w: model %q", gateway.ErrNotFound, model)
}

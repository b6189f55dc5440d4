package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
)

// modelInfo is the dialect-neutral intermediate for model catalog entries.
type modelInfo struct {
	ID          string
	DisplayName string
	Created     int64 // unix seconds, 0 when the source has none
	OwnedBy     string
}

// modelsListResponse translates a models-list body from the pair's upstream
// dialect into its downstream dialect.
func modelsListResponse(p Pair, body []byte) ([]byte, error) {
	infos, err := decodeModelList(p.Upstream(), body)
	if err != nil {
		return nil, err
	}
	return encodeModelList(p.Downstream(), infos)
}

// modelsGetResponse translates a single model body.
func modelsGetResponse(p Pair, body []byte) ([]byte, error) {
	info, err := decodeModel(p.Upstream(), body)
	if err != nil {
		return nil, err
	}
	return encodeModel(p.Downstream(), info)
}

func decodeModelList(d gateway.Dialect, body []byte) ([]modelInfo, error) {
	switch d {
	case gateway.DialectClaude:
		var list claude.ModelList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: parse claude model list: %v", gateway.ErrTransform, err)
		}
		out := make([]modelInfo, 0, len(list.Data))
		for _, m := range list.Data {
			out = append(out, claudeModelInfo(m))
		}
		return out, nil
	case gateway.DialectGemini:
		var list gemini.ModelList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: parse gemini model list: %v", gateway.ErrTransform, err)
		}
		out := make([]modelInfo, 0, len(list.Models))
		for _, m := range list.Models {
			out = append(out, geminiModelInfo(m))
		}
		return out, nil
	default:
		var list openai.ModelList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: parse openai model list: %v", gateway.ErrTransform, err)
		}
		out := make([]modelInfo, 0, len(list.Data))
		for _, m := range list.Data {
			out = append(out, modelInfo{ID: m.ID, DisplayName: m.ID, Created: m.Created, OwnedBy: m.OwnedBy})
		}
		return out, nil
	}
}

func decodeModel(d gateway.Dialect, body []byte) (modelInfo, error) {
	switch d {
	case gateway.DialectClaude:
		var m claude.Model
		if err := json.Unmarshal(body, &m); err != nil {
			return modelInfo{}, fmt.Errorf("%w: parse claude model: %v", gateway.ErrTransform, err)
		}
		return claudeModelInfo(m), nil
	case gateway.DialectGemini:
		var m gemini.Model
		if err := json.Unmarshal(body, &m); err != nil {
			return modelInfo{}, fmt.Errorf("%w: parse gemini model: %v", gateway.ErrTransform, err)
		}
		return geminiModelInfo(m), nil
	default:
		var m openai.Model
		if err := json.Unmarshal(body, &m); err != nil {
			return modelInfo{}, fmt.Errorf("%w: parse openai model: %v", gateway.ErrTransform, err)
		}
		return modelInfo{ID: m.ID, DisplayName: m.ID, Created: m.Created, OwnedBy: m.OwnedBy}, nil
	}
}

func claudeModelInfo(m claude.Model) modelInfo {
	info := modelInfo{ID: m.ID, DisplayName: m.DisplayName, OwnedBy: "anthropic"}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		info.Created = t.Unix()
	}
	return info
}

func geminiModelInfo(m gemini.Model) modelInfo {
	id := m.BaseModelID
	if id == "" {
		id = strings.TrimPrefix(m.Name, "models/")
	}
	name := m.DisplayName
	if name == "" {
		name = id
	}
	return modelInfo{ID: id, DisplayName: name, OwnedBy: "google"}
}

func encodeModelList(d gateway.Dialect, infos []modelInfo) ([]byte, error) {
	switch d {
	case gateway.DialectClaude:
		list := claude.ModelList{Data: make([]claude.Model, 0, len(infos))}
		for _, i := range infos {
			list.Data = append(list.Data, claudeModel(i))
		}
		if n := len(list.Data); n > 0 {
			list.FirstID = &list.Data[0].ID
			list.LastID = &list.Data[n-1].ID
		}
		return json.Marshal(list)
	case gateway.DialectGemini:
		list := gemini.ModelList{Models: make([]gemini.Model, 0, len(infos))}
		for _, i := range infos {
			list.Models = append(list.Models, geminiModel(i))
		}
		return json.Marshal(list)
	default:
		list := openai.ModelList{Object: "list", Data: make([]openai.Model, 0, len(infos))}
		for _, i := range infos {
			list.Data = append(list.Data, openai.Model{ID: i.ID, Object: "model", Created: i.Created, OwnedBy: i.OwnedBy})
		}
		return json.Marshal(list)
	}
}

func encodeModel(d gateway.Dialect, info modelInfo) ([]byte, error) {
	switch d {
	case gateway.DialectClaude:
		return json.Marshal(claudeModel(info))
	case gateway.DialectGemini:
		return json.Marshal(geminiModel(info))
	default:
		return json.Marshal(openai.Model{ID: info.ID, Object: "model", Created: info.Created, OwnedBy: info.OwnedBy})
	}
}

func claudeModel(i modelInfo) claude.Model {
	name := i.DisplayName
	if name == "" {
		name = i.ID
	}
	// Sources without a creation time get the epoch placeholder.
	created := time.Unix(i.Created, 0).UTC().Format(time.RFC3339)
	return claude.Model{Type: "model", ID: i.ID, DisplayName: name, CreatedAt: created}
}

func geminiModel(i modelInfo) gemini.Model {
	name := i.DisplayName
	if name == "" {
		name = i.ID
	}
	return gemini.Model{
		Name:        "models/" + i.ID,
		BaseModelID: i.ID,
		Version:     "unknown",
		DisplayName: name,
		SupportedGenerationMethods: []string{
			"generateContent", "streamGenerateContent", "countTokens",
		},
	}
}

package upstream

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIBackend implements ModelBackend on the Gemini API.
type GenAIBackend struct {
	client *genai.Client
	model  string
}

func NewGenAIBackend(ctx context.Context, apiKey, model string) (*GenAIBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIBackend{client: client, model: model}, nil
}

func (b *GenAIBackend) StreamReply(ctx context.Context, req ReplyRequest, emit func(delta string)) (Reply, error) {
	contents, err := buildContents(req.History)
	if err != nil {
		return Reply{}, err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, d := range req.Tools {
			schema, err := schemaFromMap(d.Parameters)
			if err != nil {
				return Reply{}, fmt.Errorf("tool %s: %w", d.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if req.ForceTool != "" {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ForceTool},
			},
		}
	}

	var reply Reply
	var text strings.Builder
	for resp, err := range b.client.Models.GenerateContentStream(ctx, b.model, contents, cfg) {
		if err != nil {
			return Reply{}, fmt.Errorf("generate content: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				if emit != nil {
					emit(part.Text)
				}
			}
			if part.FunctionCall != nil {
				reply.ToolCalls = append(reply.ToolCalls, ToolCall{
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}
	reply.Text = text.String()
	return reply, nil
}

func buildContents(history []Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case "user":
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case "assistant":
			parts := make([]*genai.Part, 0, 1+len(turn.ToolCalls))
			if turn.Content != "" {
				parts = append(parts, genai.NewPartFromText(turn.Content))
			}
			for _, tc := range turn.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, tc.Arguments))
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case "tool":
			parts := make([]*genai.Part, 0, len(turn.ToolResults))
			for _, tr := range turn.ToolResults {
				parts = append(parts, genai.NewPartFromFunctionResponse(tr.Name, map[string]any{
					"output": tr.Output,
				}))
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		default:
			return nil, fmt.Errorf("unknown turn role %q", turn.Role)
		}
	}
	return contents, nil
}

// schemaFromMap converts a JSON-schema map into the typed schema the Gemini
// API wants. Only the subset the portal tools use is supported.
func schemaFromMap(m map[string]any) (*genai.Schema, error) {
	if m == nil {
		return nil, nil
	}
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		switch t {
		case "object":
			s.Type = genai.TypeObject
		case "string":
			s.Type = genai.TypeString
		case "integer":
			s.Type = genai.TypeInteger
		case "number":
			s.Type = genai.TypeNumber
		case "boolean":
			s.Type = genai.TypeBoolean
		case "array":
			s.Type = genai.TypeArray
		default:
			return nil, fmt.Errorf("unsupported schema type %q", t)
		}
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			pm, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not an object", name)
			}
			ps, err := schemaFromMap(pm)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = ps
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		is, err := schemaFromMap(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = is
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s, nil
}

var _ ModelBackend = (*GenAIBackend)(nil)

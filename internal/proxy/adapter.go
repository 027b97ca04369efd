package proxy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Family is the protocol dialect inferred from a canonical model name's
// prefix.
type Family int

const (
	FamilyOpenAI Family = iota
	FamilyClaude
	FamilyGemini
)

// DetectFamily returns the family for a normalized canonical model name.
func DetectFamily(model string) Family {
	switch {
	case strings.HasPrefix(model, "claude"):
		return FamilyClaude
	case strings.HasPrefix(model, "gemini"):
		return FamilyGemini
	default:
		return FamilyOpenAI
	}
}

const (
	embeddingsAPIVersion = "2025-04-01-preview"
	chatAPIVersion       = "2025-04-01-preview"
)

// StreamFlag reports whether body requests a streamed response for family.
// Claude and OpenAI read body.stream as a boolean (default false); Gemini
// uses the path action instead (action == "streamGenerateContent").
func StreamFlag(family Family, body map[string]any, action string) bool {
	if family == FamilyGemini {
		return action == "streamGenerateContent"
	}
	if v, ok := body["stream"].(bool); ok {
		return v
	}
	return false
}

// RewriteBody mutates body in place per the family-specific rewriting table.
// m is the normalized canonical model name (used for the gpt-5 OpenAI rule).
func RewriteBody(family Family, m string, body map[string]any) {
	switch family {
	case FamilyClaude:
		body["anthropic_version"] = "bedrock-2023-05-31"
		delete(body, "stream")
		delete(body, "model")
		if _, hasThinking := body["thinking"]; hasThinking {
			if _, hasTemp := body["temperature"]; hasTemp {
				delete(body, "temperature")
			}
		}
	case FamilyGemini:
		delete(body, "model")
		delete(body, "stream")
	case FamilyOpenAI:
		if strings.HasPrefix(m, "gpt-5") {
			if mt, ok := body["max_tokens"]; ok {
				body["max_completion_tokens"] = mt
				delete(body, "max_tokens")
			}
			delete(body, "temperature")
		}
		if stream, _ := body["stream"].(bool); stream {
			opts, ok := body["stream_options"].(map[string]any)
			if !ok {
				opts = map[string]any{}
			}
			opts["include_usage"] = true
			body["stream_options"] = opts
		}
	}
}

// BuildURL constructs the outbound provider URL for a request. action is the
// Gemini path action (ignored for other families); stream is the detected
// stream flag.
func BuildURL(base string, family Family, m, deploymentID, action string, stream bool) string {
	base = strings.TrimRight(base, "/")
	switch family {
	case FamilyClaude:
		if stream {
			return fmt.Sprintf("%s/v2/inference/deployments/%s/invoke-with-response-stream", base, deploymentID)
		}
		return fmt.Sprintf("%s/v2/inference/deployments/%s/invoke", base, deploymentID)
	case FamilyGemini:
		act := action
		if act == "" {
			act = "generateContent"
		}
		return fmt.Sprintf("%s/v2/inference/deployments/%s/models/%s:%s", base, deploymentID, m, act)
	default: // OpenAI
		if strings.HasPrefix(m, "text") {
			return fmt.Sprintf("%s/v2/inference/deployments/%s/embeddings?api-version=%s", base, deploymentID, embeddingsAPIVersion)
		}
		return fmt.Sprintf("%s/v2/inference/deployments/%s/chat/completions?api-version=%s", base, deploymentID, chatAPIVersion)
	}
}

// apiKeyHeaders lists, in extraction-priority order, the headers an inbound
// caller may present their API key in.
var apiKeyHeaders = []string{"api-key", "x-api-key", "x-goog-api-key"}

// ExtractAPIKey pulls the caller's API key from an inbound request, trying
// api-key, x-api-key, x-goog-api-key, then a "Bearer "-prefixed
// Authorization header, in that order.
func ExtractAPIKey(header func(string) string) (string, bool) {
	for _, h := range apiKeyHeaders {
		if v := header(h); v != "" {
			return v, true
		}
	}
	if auth := header("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	return "", false
}

// SplitGeminiPath splits a Gemini path segment "model:action" on the single
// colon.
func SplitGeminiPath(segment string) (model, action string, ok bool) {
	idx := strings.Index(segment, ":")
	if idx < 0 {
		return "", "", false
	}
	return segment[:idx], segment[idx+1:], true
}

// DecodeBody parses a JSON request body into a generic map for rewriting.
func DecodeBody(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("proxy: decode request body: %w", err)
	}
	return body, nil
}

// BodyModel extracts body["model"] as a string, if present.
func BodyModel(body map[string]any) (string, bool) {
	v, ok := body["model"].(string)
	return v, ok && v != ""
}

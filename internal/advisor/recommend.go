package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recommendationSchema constrains the bulk re-optimization response: a map
// of ticker to {params, reasoning}. Values are range-checked later (and
// clamped, not rejected); the schema only guards the shape.
const recommendationSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["params"],
    "properties": {
      "params": {
        "type": "object",
        "additionalProperties": {"type": ["number", "boolean"]}
      },
      "reasoning": {"type": "string"}
    }
  }
}`

var compiledRecommendationSchema = jsonschema.MustCompileString("recommendation.json", recommendationSchema)

// RecommendationPayload is the decoded bulk re-optimization response.
type RecommendationPayload map[string]struct {
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning"`
}

// ParseRecommendations validates the raw bulk response against the schema
// and decodes it. The payload may be wrapped in prose; the first balanced
// JSON object is used.
func ParseRecommendations(raw string) (RecommendationPayload, error) {
	doc, ok := extractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("recommendation payload contains no JSON object")
	}
	var generic any
	if err := json.Unmarshal([]byte(doc), &generic); err != nil {
		return nil, fmt.Errorf("recommendation payload is not valid JSON: %w", err)
	}
	if err := compiledRecommendationSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("recommendation payload failed schema validation: %w", err)
	}
	var payload RecommendationPayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}

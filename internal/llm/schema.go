package llm

// BuildQuestionJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as an output constraint and also use it locally to validate.
// "Exactly one correct option" cannot be expressed here and is checked after decoding.
func BuildQuestionJSONSchema(count, optionsPerQuestion int) map[string]any {
	option := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"text":    map[string]any{"type": "string", "minLength": 1},
			"correct": map[string]any{"type": "boolean"},
		},
		"required": []string{"text", "correct"},
	}
	question := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"question":    map[string]any{"type": "string", "minLength": 1},
			"options":     map[string]any{"type": "array", "items": option, "minItems": 2},
			"explanation": map[string]any{"type": "string"},
		},
		"required": []string{"question", "options"},
	}
	if optionsPerQuestion > 0 {
		question["properties"].(map[string]any)["options"] = map[string]any{
			"type":     "array",
			"items":    option,
			"minItems": optionsPerQuestion,
			"maxItems": optionsPerQuestion,
		}
	}

	questions := map[string]any{"type": "array", "items": question, "minItems": 1}
	if count > 0 {
		questions["maxItems"] = count
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]any{"questions": questions},
		"required":             []string{"questions"},
	}
}

package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// NormalizeQuestionJSON repairs the common ways models drift from the schema
// before strict validation:
// - a bare array instead of {"questions": [...]}
// - synonyms (text/prompt -> question, choices/answers -> options, is_correct -> correct)
// - options given as strings plus an "answer" index or letter
// - "true"/"false" strings for booleans
// - unknown keys, which the schema forbids
func NormalizeQuestionJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	var changed []string

	root, ok := doc.(map[string]any)
	if !ok {
		arr, isArr := doc.([]any)
		if !isArr {
			return nil, nil, fmt.Errorf("sanitize: unexpected top-level %T", doc)
		}
		root = map[string]any{"questions": arr}
		changed = append(changed, "wrapped_array")
	}
	for _, alt := range []string{"quiz", "items", "mcqs"} {
		if _, has := root["questions"]; !has {
			if v, ok := root[alt]; ok {
				root["questions"] = v
				changed = append(changed, alt+"->questions")
			}
		}
	}

	list, _ := root["questions"].([]any)
	out := make([]any, 0, len(list))
	for i, item := range list {
		q, ok := item.(map[string]any)
		if !ok {
			changed = append(changed, fmt.Sprintf("q%d(dropped)", i))
			continue
		}
		out = append(out, normalizeQuestion(q, i, &changed))
	}

	b, err := json.Marshal(map[string]any{"questions": out})
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changed) > 0 {
		logger.Warn("llm.questions.normalize_sanitize", "changed", changed)
	}
	return b, changed, nil
}

func normalizeQuestion(q map[string]any, i int, changed *[]string) map[string]any {
	rename := func(from, to string) {
		if v, ok := q[from]; ok {
			if _, exists := q[to]; !exists {
				q[to] = v
				*changed = append(*changed, fmt.Sprintf("q%d.%s->%s", i, from, to))
			}
			delete(q, from)
		}
	}
	rename("text", "question")
	rename("prompt", "question")
	rename("choices", "options")
	rename("answers", "options")

	answer := answerIndex(q["answer"])
	if answer < 0 {
		answer = answerIndex(q["correct_index"])
	}

	rawOpts, _ := q["options"].([]any)
	opts := make([]any, 0, len(rawOpts))
	for j, o := range rawOpts {
		var opt map[string]any
		switch v := o.(type) {
		case string:
			opt = map[string]any{"text": v, "correct": false}
			*changed = append(*changed, fmt.Sprintf("q%d.o%d(string)", i, j))
		case map[string]any:
			opt = v
			if _, has := opt["text"]; !has {
				for _, alt := range []string{"option", "label", "value"} {
					if t, ok := opt[alt]; ok {
						opt["text"] = t
						break
					}
				}
			}
			if _, has := opt["correct"]; !has {
				if c, ok := opt["is_correct"]; ok {
					opt["correct"] = c
				} else if c, ok := opt["isCorrect"]; ok {
					opt["correct"] = c
				}
			}
		default:
			*changed = append(*changed, fmt.Sprintf("q%d.o%d(dropped)", i, j))
			continue
		}
		opt["correct"] = truthy(opt["correct"])
		if answer >= 0 {
			opt["correct"] = j == answer
		}
		if s, ok := opt["text"].(string); ok {
			opt["text"] = strings.TrimSpace(s)
		}
		opts = append(opts, map[string]any{"text": opt["text"], "correct": opt["correct"]})
	}

	clean := map[string]any{"options": opts}
	if s, ok := q["question"].(string); ok {
		clean["question"] = strings.TrimSpace(s)
	}
	if s, ok := q["explanation"].(string); ok && strings.TrimSpace(s) != "" {
		clean["explanation"] = strings.TrimSpace(s)
	}
	return clean
}

// answerIndex accepts 0-based numbers or letters A-Z; -1 when absent.
func answerIndex(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		s := strings.ToUpper(strings.TrimSpace(t))
		if len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z' {
			return int(s[0] - 'A')
		}
	}
	return -1
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t != 0
	}
	return false
}

// ExtractJSONObject strips markdown fences and prose around the first JSON
// object or array in content.
func ExtractJSONObject(content string) []byte {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return []byte(s)
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return []byte(s[start:])
	}
	return []byte(s[start : end+1])
}

package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// QuestionSchema is the question-set schema for one (count, options) shape,
// compiled once and shared by every request with that shape.
type QuestionSchema struct {
	Doc map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

type schemaShape struct{ count, options int }

var questionSchemas sync.Map // schemaShape -> *QuestionSchema

// QuestionSchemaFor returns the cached schema for count questions with
// optionsPerQuestion options each. Non-positive values leave that bound open.
func QuestionSchemaFor(count, optionsPerQuestion int) *QuestionSchema {
	key := schemaShape{count: max(count, 0), options: max(optionsPerQuestion, 0)}
	if v, ok := questionSchemas.Load(key); ok {
		return v.(*QuestionSchema)
	}
	v, _ := questionSchemas.LoadOrStore(key, &QuestionSchema{Doc: BuildQuestionJSONSchema(key.count, key.options)})
	return v.(*QuestionSchema)
}

func (s *QuestionSchema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		b, err := json.Marshal(s.Doc)
		if err != nil {
			s.err = fmt.Errorf("marshal question schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("questions.json", bytes.NewReader(b)); err != nil {
			s.err = fmt.Errorf("add question schema: %w", err)
			return
		}
		s.compiled, s.err = compiler.Compile("questions.json")
		if s.err != nil {
			s.err = fmt.Errorf("compile question schema: %w", s.err)
		}
	})
	return s.compiled, s.err
}

// Validate checks a model reply against the schema.
func (s *QuestionSchema) Validate(data []byte) error {
	schema, err := s.compile()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("question set is not json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("question set does not match schema: %w", err)
	}
	return nil
}

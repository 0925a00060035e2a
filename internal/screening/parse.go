package screening

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const resumeSchemaURL = "resume_fields.schema.json"

var (
	resumeSchemaOnce sync.Once
	resumeSchema     *jsonschema.Schema
	resumeSchemaErr  error
)

func compiledResumeSchema() (*jsonschema.Schema, error) {
	resumeSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resumeSchemaURL, strings.NewReader(resumeFieldsSchema)); err != nil {
			resumeSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		resumeSchema, resumeSchemaErr = compiler.Compile(resumeSchemaURL)
		if resumeSchemaErr != nil {
			resumeSchemaErr = fmt.Errorf("compile schema: %w", resumeSchemaErr)
		}
	})
	return resumeSchema, resumeSchemaErr
}

// parseResumeFields validates model output against the resume schema and decodes it.
func parseResumeFields(raw string) (*ResumeFields, error) {
	cleaned := extractJSON(raw)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("parse resume fields: %w", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("resume fields must be a JSON object")
	}

	schema, err := compiledResumeSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("resume fields do not match schema: %w", err)
	}

	var fields ResumeFields
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &fields,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(obj); err != nil {
		return nil, fmt.Errorf("decode resume fields: %w", err)
	}

	fields.normalize()
	if fields.IsEmpty() {
		return nil, errors.New("model extracted no resume fields")
	}

	return &fields, nil
}

// parseQuestions reads an ordered id -> question object and keeps the first n entries.
// A bare JSON array of strings and a {"questions": ...} wrapper are accepted too.
func parseQuestions(raw string, n int) (QuestionSet, int, error) {
	cleaned := extractJSON(raw)
	if !gjson.Valid(cleaned) {
		return nil, 0, errors.New("questions are not valid JSON")
	}

	root := gjson.Parse(cleaned)
	if wrapped := root.Get("questions"); root.IsObject() && len(root.Map()) == 1 && wrapped.Exists() {
		root = wrapped
	}

	var set QuestionSet
	switch {
	case root.IsArray():
		for i, item := range root.Array() {
			if item.Type != gjson.String {
				return nil, 0, fmt.Errorf("question %d is not a string", i+1)
			}
			set = append(set, Question{ID: fmt.Sprintf("q%d", i+1), Text: item.String()})
		}
	case root.IsObject():
		entries, err := decodeOrderedObject([]byte(root.Raw))
		if err != nil {
			return nil, 0, err
		}
		seen := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			id := strings.TrimSpace(entry.Key)
			if id == "" {
				return nil, 0, errors.New("question with empty identifier")
			}
			if _, dup := seen[id]; dup {
				return nil, 0, fmt.Errorf("duplicate question identifier %q", id)
			}
			seen[id] = struct{}{}

			var text string
			if err := json.Unmarshal(entry.Value, &text); err != nil {
				return nil, 0, fmt.Errorf("question %q is not a string", id)
			}
			set = append(set, Question{ID: id, Text: text})
		}
	default:
		return nil, 0, errors.New("questions must be a JSON object")
	}

	for i := range set {
		set[i].Text = strings.TrimSpace(set[i].Text)
		if set[i].Text == "" {
			return nil, 0, fmt.Errorf("question %q is empty", set[i].ID)
		}
	}

	total := len(set)
	if total < n {
		return nil, total, fmt.Errorf("expected %d questions, got %d", n, total)
	}
	return set[:n], total, nil
}

// techStack lists skills and project technologies without duplicates, in resume order.
func techStack(fieldsJSON []byte) []string {
	seen := make(map[string]struct{})
	var stack []string

	add := func(result gjson.Result) {
		for _, item := range result.Array() {
			name := strings.TrimSpace(item.String())
			key := strings.ToLower(name)
			if name == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			stack = append(stack, name)
		}
	}

	add(gjson.GetBytes(fieldsJSON, "skills"))
	add(gjson.GetBytes(fieldsJSON, "projects.#.technologies|@flatten"))

	return stack
}

// extractJSON strips markdown fences and any prose around the outermost JSON value.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.TrimSpace(strings.Trim(raw, "`"))

	if gjson.Valid(raw) {
		return raw
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(raw, pair[0])
		end := strings.LastIndex(raw, pair[1])
		if start != -1 && end > start && gjson.Valid(raw[start:end+1]) {
			return raw[start : end+1]
		}
	}
	return raw
}

package inference

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Reply schema names.
const (
	SchemaSimilarity     = "similarity"
	SchemaDifference     = "difference"
	SchemaGeneration     = "generation"
	SchemaMerge          = "merge"
	SchemaClassification = "classification"
)

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		names := []string{SchemaSimilarity, SchemaDifference, SchemaGeneration, SchemaMerge, SchemaClassification}
		for _, name := range names {
			file := name + ".schema.json"
			raw, err := schemaFS.ReadFile("schemas/" + file)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", file, err)
				return
			}
			if err := compiler.AddResource(file, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", file, err)
				return
			}
		}

		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			schema, err := compiler.Compile(name + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = schema
		}
		compiledSchemas = out
	})
	return compiledSchemas, compileErr
}

// ValidateReply checks an extracted JSON object against the named reply schema.
func ValidateReply(schemaName string, raw []byte) error {
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown reply schema %q", schemaName)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing content after object", ErrMalformedResponse)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Decode runs one call end to end: generate, extract the JSON object, validate
// it against schemaName and unmarshal it into T.
func Decode[T any](ctx context.Context, gen Generator, schemaName string, req Request) (T, error) {
	var out T
	if gen == nil {
		return out, fmt.Errorf("inference generator is nil")
	}

	text, err := gen.Generate(ctx, req)
	if err != nil {
		return out, err
	}
	object, err := ExtractJSON(text)
	if err != nil {
		return out, err
	}
	if err := ValidateReply(schemaName, []byte(object)); err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(object), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

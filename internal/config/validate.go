package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Validation error codes (E200-E299)
const (
	ErrCodeSyntax = "E200" // document is not valid YAML
	ErrCodeEmpty  = "E201" // document is empty
	ErrCodeSchema = "E202" // document violates the schema
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
)

func configSchema() (*cue.Context, cue.Value) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schema := schemaCtx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		if schema.Err() != nil {
			panic(fmt.Sprintf("config schema: %v", schema.Err()))
		}
		schemaDef = schema.LookupPath(cue.ParsePath("#Config"))
	})
	return schemaCtx, schemaDef
}

// Validate checks a YAML document against the configuration schema.
// Returns all errors found (does not fail-fast).
func Validate(data []byte) []error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []error{&ValidationError{Code: ErrCodeSyntax, Message: err.Error()}}
	}
	if doc == nil {
		return []error{&ValidationError{Code: ErrCodeEmpty, Message: "configuration is empty"}}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return []error{&ValidationError{Code: ErrCodeSyntax, Message: err.Error()}}
	}

	ctx, def := configSchema()
	value := ctx.CompileBytes(raw, cue.Filename("config"))
	if value.Err() != nil {
		return []error{&ValidationError{Code: ErrCodeSyntax, Message: value.Err().Error()}}
	}

	err = def.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, &ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrCodeSchema,
		})
	}
	return errs
}

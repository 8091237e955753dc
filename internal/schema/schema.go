// Package schema validates feature documents against a CUE definition before
// they reach the resolution engine.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/stableid/internal/model"
)

//go:embed features.cue
var defaultSchema []byte

// DefinitionPath is the definition every schema file must declare.
const DefinitionPath = "#Features"

// Problem is a single schema violation. Message carries the path prefix
// CUE reports.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in one document.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Message)
	}
	return "invalid feature document: " + strings.Join(msgs, "; ")
}

// Validator checks feature documents against a compiled #Features definition.
// Not safe for concurrent use; the coordinator calls it from its single writer.
type Validator struct {
	ctx *cue.Context
	def cue.Value
}

// New compiles the built-in schema.
func New() (*Validator, error) {
	return compile("features.cue", defaultSchema)
}

// NewFromFile compiles a schema file that declares #Features.
func NewFromFile(path string) (*Validator, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return compile(path, src)
}

func compile(filename string, src []byte) (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", filename, err)
	}
	def := v.LookupPath(cue.ParsePath(DefinitionPath))
	if !def.Exists() {
		return nil, fmt.Errorf("compile schema %s: %s is not defined", filename, DefinitionPath)
	}
	return &Validator{ctx: ctx, def: def}, nil
}

// Validate returns a *ValidationError listing every violation, or nil.
func (v *Validator) Validate(doc model.FeatureDocument) error {
	if doc == nil {
		doc = model.FeatureDocument{}
	}
	data, err := model.MarshalCanonical(doc)
	if err != nil {
		return &ValidationError{Problems: []Problem{{Message: err.Error()}}}
	}

	val := v.ctx.CompileBytes(data)
	if err := val.Err(); err != nil {
		return &ValidationError{Problems: []Problem{{Message: err.Error()}}}
	}

	unified := v.def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) *ValidationError {
	ve := &ValidationError{}
	for _, e := range errors.Errors(err) {
		ve.Problems = append(ve.Problems, Problem{
			Field:   strings.Join(e.Path(), "."),
			Message: e.Error(),
		})
	}
	if len(ve.Problems) == 0 {
		ve.Problems = append(ve.Problems, Problem{Message: err.Error()})
	}
	return ve
}

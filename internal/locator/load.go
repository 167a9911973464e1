package locator

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// schema constrains locator files. Every field needs at least one selector.
const schema = `
#Field: {
	selectors: [string, ...string]
	scoped?:   bool
}
fields: [string]: #Field
`

// LoadError reports a malformed locator file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

// Load error codes.
const (
	ErrCodeRead    = "E_LOCATOR_READ"
	ErrCodeCompile = "E_LOCATOR_COMPILE"
	ErrCodeSchema  = "E_LOCATOR_SCHEMA"
	ErrCodeField   = "E_LOCATOR_FIELD"
)

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadFile reads a CUE locator file and applies it on top of Default.
//
//	fields: {
//		place_order: selectors: ["#placeOrder"]
//		offer_price: {selectors: [".price"], scoped: true}
//	}
//
// A field listed in the file replaces the default entry entirely. Scoped
// defaults to the built-in value when omitted.
func LoadFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeRead, Message: err.Error()}
	}
	return Parse(data, path)
}

// Parse is LoadFile on in-memory source.
func Parse(data []byte, filename string) (*Map, error) {
	ctx := cuecontext.New()

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, cueLoadError(ErrCodeCompile, err)
	}

	unified := ctx.CompileString(schema).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeSchema, err)
	}

	var doc struct {
		Fields map[string]struct {
			Selectors []string `json:"selectors"`
			Scoped    *bool    `json:"scoped"`
		} `json:"fields"`
	}
	if err := unified.Decode(&doc); err != nil {
		return nil, cueLoadError(ErrCodeSchema, err)
	}

	base := Default()
	overrides := make([]Field, 0, len(doc.Fields))
	for name, raw := range doc.Fields {
		def, err := base.Field(name)
		if err != nil {
			pos := unified.LookupPath(cue.MakePath(cue.Str("fields"), cue.Str(name))).Pos()
			return nil, &LoadError{Code: ErrCodeField, Message: err.Error(), Pos: pos}
		}
		scoped := def.Scoped
		if raw.Scoped != nil {
			scoped = *raw.Scoped
		}
		overrides = append(overrides, Field{Name: name, Selectors: raw.Selectors, Scoped: scoped})
	}

	m, err := base.Override(overrides...)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeField, Message: err.Error()}
	}
	return m, nil
}

func cueLoadError(code string, err error) *LoadError {
	le := &LoadError{Code: code, Message: cueerrors.Details(err, nil)}
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

//go:embed signin.schema.json
var signinSchemaJSON string

// signinSchema is compiled once; the embedded document is fixed at build time.
var signinSchema = mustCompileSchema("signin.schema.json", signinSchemaJSON)

func mustCompileSchema(url, doc string) *jsonschema.Schema {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("parse %s: %v", url, err))
	}
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	if err := compiler.AddResource(url, parsed); err != nil {
		panic(fmt.Sprintf("add %s: %v", url, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", url, err))
	}
	return schema
}

// decodeSigninRequest validates raw against the sign-in schema before
// decoding it. Failures are BadRequest errors whose detail names the
// offending location.
func decodeSigninRequest(raw []byte) (*SigninRequest, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, httperr.BadRequest("request body must be a JSON sign-in document")
	}
	if err := signinSchema.Validate(inst); err != nil {
		return nil, httperr.BadRequest(formatValidationError(err))
	}

	var req SigninRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, httperr.BadRequestf("decode sign-in document: %w", err)
	}
	return &req, nil
}

// formatValidationError reports the first failing location, e.g.
// "validation failed at '$.perspective': got string, want integer".
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	path := "$"
	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		path += "." + strings.Join(parts, ".")
	}

	lines := strings.Split(strings.TrimSpace(ve.Error()), "\n")
	msg := lines[len(lines)-1]
	if i := strings.Index(msg, "': "); i >= 0 {
		msg = msg[i+3:]
	}
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("validation failed at '%s': %s", path, msg)
}

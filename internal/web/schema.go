// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/invopop/jsonschema"
	"github.com/labstack/echo/v4"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// Request bodies. Length and format rules live in the jsonschema tags; the
// password character classes are checked after decoding.
type registerRequest struct {
	Username string `json:"username" jsonschema:"minLength=1,maxLength=20"`
	Email    string `json:"email" jsonschema:"format=email,maxLength=254"`
	Password string `json:"password" jsonschema:"minLength=8"`
}

type loginRequest struct {
	Email    string `json:"email" jsonschema:"minLength=1"`
	Password string `json:"password" jsonschema:"minLength=1"`
}

type usernameRequest struct {
	Username string `json:"username" jsonschema:"minLength=1,maxLength=20"`
}

type emailRequest struct {
	Email string `json:"email" jsonschema:"format=email,maxLength=254"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" jsonschema:"minLength=1"`
	NewPassword     string `json:"newPassword" jsonschema:"minLength=8"`
}

// Schema names accepted by GenerateSchema.
const (
	SchemaRegister = "register"
	SchemaLogin    = "login"
	SchemaUsername = "username"
	SchemaEmail    = "email"
	SchemaPassword = "password"
)

var requestTypes = map[string]func() any{
	SchemaRegister: func() any { return &registerRequest{} },
	SchemaLogin:    func() any { return &loginRequest{} },
	SchemaUsername: func() any { return &usernameRequest{} },
	SchemaEmail:    func() any { return &emailRequest{} },
	SchemaPassword: func() any { return &passwordRequest{} },
}

// schemaCache holds compiled schemas keyed by name.
var schemaCache sync.Map

// SchemaNames lists the request schemas in sorted order.
func SchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for name := range requestTypes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GenerateSchema generates the JSON Schema of a request body.
func GenerateSchema(name string) ([]byte, error) {
	newRequest, ok := requestTypes[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("schema", name).Errorf("unknown request schema")
	}

	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(newRequest())
	schema.Title = "holoauth " + name + " request"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("schema", name).Wrap(err)
	}
	return data, nil
}

// compiledSchema returns the cached compiled schema or compiles it.
func compiledSchema(name string) (*jschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		return cached.(*jschema.Schema), nil
	}

	schemaBytes, err := GenerateSchema(name)
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}

	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}

	actual, _ := schemaCache.LoadOrStore(name, sch)
	return actual.(*jschema.Schema), nil
}

// bind reads the request body, validates it against the named schema and
// decodes it into dst.
func bind(c echo.Context, name string, dst any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return oops.Code("REQUEST_READ_FAILED").Wrap(err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return validationError(FieldError{Field: "body", Message: "must be a JSON object"})
	}

	sch, err := compiledSchema(name)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		var verr *jschema.ValidationError
		if errors.As(err, &verr) {
			return validationError(schemaFieldErrors(verr)...)
		}
		return oops.Code("REQUEST_VALIDATE_FAILED").With("schema", name).Wrap(err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code("REQUEST_DECODE_FAILED").With("schema", name).Wrap(err)
	}
	return nil
}

// schemaFieldErrors flattens a validation error tree into field errors,
// one per leaf, sorted by field.
func schemaFieldErrors(verr *jschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jschema.ValidationError)
	walk = func(e *jschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, describe(e)...)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)

	slices.SortStableFunc(out, func(a, b FieldError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return out
}

func describe(e *jschema.ValidationError) []FieldError {
	field := strings.Join(e.InstanceLocation, ".")
	if field == "" {
		field = "body"
	}

	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		fields := make([]FieldError, 0, len(k.Missing))
		for _, name := range k.Missing {
			fields = append(fields, FieldError{Field: name, Message: "is required"})
		}
		return fields
	case *kind.AdditionalProperties:
		fields := make([]FieldError, 0, len(k.Properties))
		for _, name := range k.Properties {
			fields = append(fields, FieldError{Field: name, Message: "is not allowed"})
		}
		return fields
	case *kind.MinLength:
		if k.Want == 1 {
			return []FieldError{{Field: field, Message: "is required"}}
		}
		return []FieldError{{Field: field, Message: fmt.Sprintf("must be at least %d characters", k.Want)}}
	case *kind.MaxLength:
		return []FieldError{{Field: field, Message: fmt.Sprintf("must be at most %d characters", k.Want)}}
	case *kind.Format:
		return []FieldError{{Field: field, Message: "must be a valid " + k.Want}}
	case *kind.Type:
		return []FieldError{{Field: field, Message: "must be " + strings.Join(k.Want, " or ")}}
	default:
		return []FieldError{{Field: field, Message: "is invalid"}}
	}
}

// passwordStrength reports the character classes a new password lacks.
func passwordStrength(field, password string) []FieldError {
	var upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}

	var fields []FieldError
	if !upper {
		fields = append(fields, FieldError{Field: field, Message: "must contain an uppercase letter"})
	}
	if !digit {
		fields = append(fields, FieldError{Field: field, Message: "must contain a digit"})
	}
	if !special {
		fields = append(fields, FieldError{Field: field, Message: "must contain a special character"})
	}
	return fields
}

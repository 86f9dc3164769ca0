package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/qri-io/jsonschema"

	"github.com/sakif/care-assign/internal/apperror"
)

// maxBodyBytes caps request bodies. A full batch of IDs fits comfortably.
const maxBodyBytes = 1 << 20

// Request bodies that change assignments are checked against a JSON Schema
// before they are decoded, so type and shape errors come back as one
// consistent 400 naming the offending field.
var (
	loginSchema = mustSchema(`{
		"type": "object",
		"required": ["login", "password"],
		"properties": {
			"login": {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	manualAssignSchema = mustSchema(`{
		"type": "object",
		"required": ["userId", "providerId"],
		"properties": {
			"userId": {"type": "string", "minLength": 1},
			"providerId": {"type": "string", "minLength": 1},
			"notes": {"type": "string", "maxLength": 500}
		},
		"additionalProperties": false
	}`)

	batchAssignSchema = mustSchema(`{
		"type": "object",
		"required": ["userIds"],
		"properties": {
			"userIds": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "minLength": 1}
			},
			"algorithm": {"type": "string"},
			"preferences": {
				"type": "object",
				"properties": {
					"maxDistance": {"type": "number", "exclusiveMinimum": 0},
					"considerSpecialty": {"type": "boolean"},
					"considerSchedule": {"type": "boolean"},
					"balanceLoad": {"type": "boolean"}
				},
				"additionalProperties": false
			}
		},
		"additionalProperties": false
	}`)

	reasonSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"reason": {"type": "string", "maxLength": 500}
		},
		"additionalProperties": false
	}`)

	reassignSchema = mustSchema(`{
		"type": "object",
		"required": ["providerId"],
		"properties": {
			"providerId": {"type": "string", "minLength": 1},
			"reason": {"type": "string", "maxLength": 500}
		},
		"additionalProperties": false
	}`)
)

func mustSchema(src string) *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(src), rs); err != nil {
		panic(fmt.Sprintf("handler: compiling schema: %v", err))
	}
	return rs
}

// decodeValidated reads the body, validates it against schema and decodes it
// into dst. With optional set, an empty body leaves dst untouched.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any, optional bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("", fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
		}
		return apperror.ValidationFailed("", "could not read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if optional {
			return nil
		}
		return apperror.ValidationFailed("", "request body is required")
	}

	keyErrs, err := schema.ValidateBytes(r.Context(), body)
	if err != nil {
		// ValidateBytes only fails outright when the body is not JSON.
		return apperror.ValidationFailed("", "invalid JSON body")
	}
	if len(keyErrs) > 0 {
		ke := keyErrs[0]
		field := strings.TrimPrefix(ke.PropertyPath, "/")
		msg := ke.Message
		if field != "" {
			msg = field + ": " + msg
		}
		return apperror.ValidationFailed(field, msg)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return apperror.ValidationFailed("", "invalid JSON body")
	}
	return nil
}

// decodeJSON decodes a body that has no schema, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperror.ValidationFailed(typeErr.Field,
				fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type))
		}
		return apperror.ValidationFailed("", "invalid JSON body: "+err.Error())
	}
	return nil
}

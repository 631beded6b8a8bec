package auditlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const entrySchemaURL = "https://vext.schemas.local/auditlog/entry.schema.json"

// EntrySchema is the JSON Schema every exported entry satisfies.
const EntrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["seq", "prev_hash", "hash", "attestation"],
  "properties": {
    "seq": {"type": "integer", "minimum": 1},
    "prev_hash": {"type": "string", "minLength": 1},
    "hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "attestation": {
      "type": "object",
      "required": ["asset", "identity_handle", "second_factor_proof", "hold_duration_ms",
                   "nonce", "timestamp_utc", "entropy", "signature", "version", "trust_class", "signer_key"],
      "properties": {
        "asset": {"enum": ["BTC", "ETH", "SOL"]},
        "identity_handle": {"type": "string", "minLength": 1},
        "second_factor_proof": {"type": "string", "minLength": 1},
        "hold_duration_ms": {"type": "integer", "minimum": 0},
        "nonce": {"type": "string", "minLength": 1},
        "timestamp_utc": {"type": "integer", "minimum": 0},
        "entropy": {"type": "string"},
        "signature": {"type": "string", "pattern": "^[0-9a-f]+$"},
        "version": {"type": "string"},
        "trust_class": {"enum": ["identity", "device"]},
        "signer_key": {"type": "string", "pattern": "^[0-9a-f]+$"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func entrySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(entrySchemaURL, strings.NewReader(EntrySchema)); err != nil {
			schemaErr = fmt.Errorf("entry schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(entrySchemaURL)
	})
	return schema, schemaErr
}

// ValidateJSON checks a single serialized entry against EntrySchema.
func ValidateJSON(raw []byte) error {
	s, err := entrySchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("entry schema validation failed: %w", err)
	}
	return nil
}

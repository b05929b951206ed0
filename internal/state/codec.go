package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrCorrupt is returned for a state document that exists but cannot be
	// understood. It is never treated as "no state".
	ErrCorrupt = errors.New("state document is corrupt")
	// ErrUnsupportedVersion is returned for a document written by a newer build.
	ErrUnsupportedVersion = errors.New("state document version is not supported")
)

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "kind", "games", "ledger"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "kind": {"const": "homegames/state"},
    "identity": {"enum": ["", "opponent-date", "opponent-date-venue", "number"]},
    "games": {"type": "object", "additionalProperties": {"$ref": "#/definitions/game"}},
    "retired": {"type": ["object", "null"], "additionalProperties": {"$ref": "#/definitions/game"}},
    "ledger": {"type": ["array", "null"], "items": {"$ref": "#/definitions/delivery"}},
    "rotation": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "object",
        "required": ["next"],
        "properties": {
          "pool": {"type": ["array", "null"], "items": {"type": "string"}},
          "next": {"type": "integer", "minimum": 0}
        }
      }
    }
  },
  "definitions": {
    "game": {
      "type": "object",
      "required": ["key", "date", "opponent"],
      "properties": {
        "key": {"type": "string", "minLength": 1},
        "date": {"type": "string"},
        "opponent": {"type": "string"},
        "assignments": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["role", "recipient"],
            "properties": {
              "role": {"type": "string", "minLength": 1},
              "recipient": {"type": "string"}
            }
          }
        }
      }
    },
    "delivery": {
      "type": "object",
      "required": ["game", "rule", "recipient", "sent_at"],
      "properties": {
        "game": {"type": "string", "minLength": 1},
        "rule": {"type": "string", "minLength": 1},
        "recipient": {"type": "string", "minLength": 1},
        "class": {"enum": ["rule", "referee-alert"]},
        "sent_at": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return schema, schemaErr
}

// Encode serializes s as an indented, self-describing JSON document.
func Encode(s *State) ([]byte, error) {
	s.ensure()
	s.Version = SchemaVersion
	s.Kind = Kind

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// Decode parses a state document. The version is checked before anything
// else so a newer document is reported as such rather than as corrupt.
func Decode(data []byte) (*State, error) {
	var envelope struct {
		Version int    `json:"version"`
		Kind    string `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if envelope.Version > SchemaVersion {
		return nil, fmt.Errorf("%w: document version %d, this build reads up to %d",
			ErrUnsupportedVersion, envelope.Version, SchemaVersion)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling state schema: %w", err)
	}
	result, err := sch.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(msgs, "; "))
	}

	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	s.ensure()

	for key, g := range s.Games {
		if g == nil || g.Key != key {
			return nil, fmt.Errorf("%w: game entry %q does not match its key", ErrCorrupt, key)
		}
	}
	for key, g := range s.Retired {
		if g == nil || g.Key != key {
			return nil, fmt.Errorf("%w: retired entry %q does not match its key", ErrCorrupt, key)
		}
	}
	return s, nil
}

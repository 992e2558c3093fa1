// Package protocol decodes and validates inbound websocket messages against
// the JSON schemas embedded in schemas/.
package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "mem://worldserver/schemas/"

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is a validated inbound message.
type Message struct {
	Type      string
	RequestID string
	Raw       json.RawMessage
}

// Validator holds one compiled schema per message type. It is safe for
// concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("reading schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		v.schemas[strings.TrimSuffix(name, ".schema.json")] = s
	}
	return v, nil
}

// Types lists the message types the validator accepts.
func (v *Validator) Types() []string {
	out := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		out = append(out, t)
	}
	return out
}

// Decode parses data and validates it against the schema for its type.
// The returned Message carries the request id even when validation fails so
// the error reply can echo it.
func (v *Validator) Decode(data []byte) (Message, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Message{}, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	msg := Message{Raw: json.RawMessage(data)}
	msg.Type, _ = obj["type"].(string)
	msg.RequestID, _ = obj["requestId"].(string)

	schema, ok := v.schemas[msg.Type]
	if !ok {
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return msg, fmt.Errorf("%w: %s", ErrInvalidMessage, describe(verr))
		}
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// describe flattens a validation error to its innermost causes.
func describe(e *jsonschema.ValidationError) string {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return loc + ": " + e.Message
	}
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, describe(c))
	}
	return strings.Join(parts, "; ")
}

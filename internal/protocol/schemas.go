package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeHello:    "hello.schema.json",
	TypeCenter:   "center.schema.json",
	TypeSetBlock: "set_block.schema.json",
	TypeWelcome:  "welcome.schema.json",
	TypeMesh:     "mesh.schema.json",
	TypeHide:     "chunk_ref.schema.json",
	TypeDespawn:  "chunk_ref.schema.json",
	TypeAck:      "ack.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	added := make(map[string]bool)
	for _, name := range schemaFiles {
		if added[name] {
			continue
		}
		added[name] = true
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return
		}
	}
	schemas = make(map[string]*jsonschema.Schema, len(schemaFiles))
	for typ, name := range schemaFiles {
		s, err := c.Compile(name)
		if err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return
		}
		schemas[typ] = s
	}
}

// Validate checks a raw message against the schema for its type.
func Validate(raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	base, err := DecodeBase(raw)
	if err != nil {
		return err
	}
	s, ok := schemas[base.Type]
	if !ok {
		return fmt.Errorf("unknown message type %q", base.Type)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

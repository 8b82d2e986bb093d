package ocr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const structuredDataSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["document_type", "fields"],
  "additionalProperties": false,
  "properties": {
    "document_type": {"enum": ["RG", "CNH", "UNKNOWN", "PROOF_OF_RESIDENCE"]},
    "fields": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "cpf": {"type": "string", "pattern": "^[0-9]{11}$"},
        "rg_number": {"type": "string", "pattern": "^[0-9]+X?$"},
        "cnh_number": {"type": "string", "pattern": "^[0-9]{9,11}$"},
        "issue_date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
        "expiry_date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
        "issuing_authority": {"type": "string", "minLength": 1},
        "uf": {"type": "string", "pattern": "^[A-Z]{2}$"},
        "cep": {"type": "string", "pattern": "^[0-9]{8}$"},
        "street": {"type": "string", "minLength": 1},
        "neighborhood": {"type": "string", "minLength": 1},
        "city": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("structured_data.json", strings.NewReader(structuredDataSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("structured_data.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateStructuredData checks sd against the stored-shape JSON Schema.
func ValidateStructuredData(sd StructuredData) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	if sd.Fields == nil {
		sd.Fields = map[string]string{}
	}
	b, err := json.Marshal(sd)
	if err != nil {
		return fmt.Errorf("marshal structured data: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal structured data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("structured data does not match schema: %w", err)
	}
	return nil
}

// DropInvalidFields removes every field that fails the schema on its own and
// returns the sorted names of the dropped fields. An error means the payload
// is still invalid without its fields, e.g. an unknown document type.
func DropInvalidFields(sd StructuredData) (StructuredData, []string, error) {
	if err := ValidateStructuredData(sd); err == nil {
		return sd, nil, nil
	}
	kept := make(map[string]string, len(sd.Fields))
	var dropped []string
	for k, v := range sd.Fields {
		one := StructuredData{DocumentType: sd.DocumentType, Fields: map[string]string{k: v}}
		if ValidateStructuredData(one) != nil {
			dropped = append(dropped, k)
			continue
		}
		kept[k] = v
	}
	sort.Strings(dropped)
	out := StructuredData{DocumentType: sd.DocumentType, Fields: kept}
	if err := ValidateStructuredData(out); err != nil {
		return sd, nil, err
	}
	return out, dropped, nil
}

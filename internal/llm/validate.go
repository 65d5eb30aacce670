package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := compileSchema(schemaMap)
	if err != nil {
		return err
	}
	return validateWith(schema, data)
}

var (
	invoiceSchemaOnce sync.Once
	invoiceSchema     *jsonschema.Schema
	invoiceSchemaErr  error
)

// ValidateInvoiceJSON validates data against the invoice schema, compiled once.
func ValidateInvoiceJSON(data []byte) error {
	invoiceSchemaOnce.Do(func() {
		invoiceSchema, invoiceSchemaErr = compileSchema(BuildInvoiceJSONSchema())
	})
	if invoiceSchemaErr != nil {
		return invoiceSchemaErr
	}
	return validateWith(invoiceSchema, data)
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateWith(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

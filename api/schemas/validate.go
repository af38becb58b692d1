package schemas

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed report.schema.json
var reportSchemaJSON []byte

var (
	reportSchemaOnce sync.Once
	reportSchema     *jsonschema.Schema
	reportSchemaErr  error
)

func compiledReportSchema() (*jsonschema.Schema, error) {
	reportSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("report.schema.json", bytes.NewReader(reportSchemaJSON)); err != nil {
			reportSchemaErr = fmt.Errorf("failed to add report schema resource: %w", err)
			return
		}
		reportSchema, reportSchemaErr = compiler.Compile("report.schema.json")
	})
	return reportSchema, reportSchemaErr
}

// ValidateReport checks a serialized report against the embedded JSON
// Schema. Downstream consumers parse the report blindly, so shape drift is
// caught here rather than in their tooling.
func ValidateReport(data []byte) error {
	schema, err := compiledReportSchema()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("report is not valid JSON: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("report failed schema validation: %w", err)
	}
	return nil
}

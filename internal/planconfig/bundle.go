package planconfig

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mbd888/ratecard/internal/validation"
)

//go:embed schemas/configuration_bundle.schema.json
var schemaFS embed.FS

const bundleSchemaName = "configuration_bundle.schema.json"

// ErrBundleShape means the bundle failed JSON Schema validation before
// any semantic checks ran.
var ErrBundleShape = errors.New("planconfig: bundle does not match schema")

// Bundle is an importable set of configurations for one plan.
type Bundle struct {
	Configurations []*Configuration `json:"configurations"`
}

var bundleSchema = mustCompileBundleSchema()

func mustCompileBundleSchema() *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + bundleSchemaName)
	if err != nil {
		panic("planconfig: missing embedded bundle schema: " + err.Error())
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic("planconfig: invalid embedded bundle schema: " + err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(bundleSchemaName, doc); err != nil {
		panic("planconfig: add bundle schema: " + err.Error())
	}
	schema, err := compiler.Compile(bundleSchemaName)
	if err != nil {
		panic("planconfig: compile bundle schema: " + err.Error())
	}
	return schema
}

// ParseBundle validates raw JSON against the bundle schema and decodes
// it. Shape errors are wrapped in ErrBundleShape with the schema
// violation detail.
func ParseBundle(raw []byte) (*Bundle, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrBundleShape, err)
	}
	if err := bundleSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleShape, err)
	}

	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleShape, err)
	}
	return &b, nil
}

// ImportResult reports a bundle import outcome. When any configuration
// fails semantic validation nothing is applied and Errors maps the
// failing configuration's index (as "configurations[i]") plus field to
// the message.
type ImportResult struct {
	Applied int                          `json:"applied"`
	Errors  map[string]validation.Fields `json:"errors,omitempty"`
}

// ImportBundle validates every configuration in the bundle for the
// given plan and applies them all-or-nothing. The pre-validation pass
// is upsert-equivalent (intrinsic rules, catalog billability, plan
// existence, guardrails), so a single rejected configuration means
// nothing is written.
func (s *Service) ImportBundle(ctx context.Context, tenantID, planID string, b *Bundle) (*ImportResult, error) {
	result := &ImportResult{}

	for i, cfg := range b.Configurations {
		cfg.TenantID = tenantID
		cfg.PlanID = planID
		errs, err := s.validateFull(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ValidationOutcome(string(cfg.Type), errs.Valid())
		}
		if !errs.Valid() {
			if result.Errors == nil {
				result.Errors = make(map[string]validation.Fields)
			}
			result.Errors[fmt.Sprintf("configurations[%d]", i)] = errs
		}
	}
	if len(result.Errors) > 0 {
		return result, ErrInvalid
	}

	for _, cfg := range b.Configurations {
		if err := s.apply(ctx, cfg); err != nil {
			return result, fmt.Errorf("apply bundle configuration for service %s: %w", cfg.ServiceID, err)
		}
		result.Applied++
	}
	return result, nil
}

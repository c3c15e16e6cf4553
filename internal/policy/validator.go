// Package policy checks the CloudFormation template against the fixed
// deployment contract (required parameters and outputs) before any apply.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"gopkg.in/yaml.v3"

	apperrors "github.com/okabe/linebot-deployer/internal/errors"
)

//go:embed template.rego
var policyContent string

type Validator struct {
	allow      rego.PreparedEvalQuery
	violations rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func NewValidator() (*Validator, error) {
	ctx := context.Background()

	allow, err := rego.New(
		rego.Query("data.template.allow"),
		rego.Module("template.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	violations, err := rego.New(
		rego.Query("data.template.violations"),
		rego.Module("template.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{allow: allow, violations: violations}, nil
}

// ValidateTemplate evaluates the contract policy against a template body.
func (v *Validator) ValidateTemplate(ctx context.Context, templateBody []byte) (*ValidationResult, error) {
	input, err := contractInput(templateBody)
	if err != nil {
		return nil, err
	}

	results, err := v.allow.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}

	result := &ValidationResult{Allowed: allowed}
	if !allowed {
		violations, err := v.getViolations(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get violations: %w", err)
		}
		result.Violations = violations
	}
	return result, nil
}

// Require is ValidateTemplate with violations folded into a single error.
func (v *Validator) Require(ctx context.Context, templateBody []byte) error {
	result, err := v.ValidateTemplate(ctx, templateBody)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %v", apperrors.ErrTemplateContract, result.Violations)
	}
	return nil
}

func (v *Validator) getViolations(ctx context.Context, input map[string]interface{}) ([]string, error) {
	results, err := v.violations.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}
	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	var violations []string
	switch value := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, violation := range value {
			if str, ok := violation.(string); ok {
				violations = append(violations, str)
			}
		}
	case map[string]interface{}:
		for violation := range value {
			violations = append(violations, violation)
		}
	}

	if len(violations) == 0 {
		return []string{"policy validation failed but no specific violations found"}, nil
	}
	return violations, nil
}

// contractInput extracts the declared parameter and output names from the
// template without resolving CloudFormation intrinsics. Walking the raw node
// tree keeps short-form tags like !Sub and !Ref from tripping the YAML
// decoder.
func contractInput(templateBody []byte) (map[string]interface{}, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(templateBody, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	input := map[string]interface{}{
		"Parameters": sectionKeys(&doc, "Parameters"),
		"Outputs":    sectionKeys(&doc, "Outputs"),
	}
	return input, nil
}

func sectionKeys(doc *yaml.Node, section string) map[string]interface{} {
	keys := map[string]interface{}{}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return keys
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return keys
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != section {
			continue
		}
		mapping := root.Content[i+1]
		if mapping.Kind != yaml.MappingNode {
			return keys
		}
		for j := 0; j+1 < len(mapping.Content); j += 2 {
			keys[mapping.Content[j].Value] = true
		}
		return keys
	}
	return keys
}

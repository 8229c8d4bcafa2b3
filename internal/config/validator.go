package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/ipcgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

// RegisterCustomValidators registers ipc-gate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("exe_name", validateExeName); err != nil {
		return fmt.Errorf("failed to register exe_name validator: %w", err)
	}
	// audit_output: validates "stdout" or "file://<absolute-path>"
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	if err := v.RegisterValidation("cel_expr", func(fl validator.FieldLevel) bool {
		return eval.ValidateExpression(fl.Field().String()) == nil
	}); err != nil {
		return fmt.Errorf("failed to register cel_expr validator: %w", err)
	}
	return nil
}

// validateExeName accepts a bare executable name: no directory part, since
// executables are resolved next to the running binary.
func validateExeName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout" or "file://<absolute-path>"
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" {
		return true
	}
	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

// validateDuration accepts a positive Go duration string ("500ms", "10s").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUniqueRuleNames(); err != nil {
		return err
	}
	if err := c.validateRuleMatches(); err != nil {
		return err
	}

	return nil
}

// validateUniqueRuleNames ensures deny reasons identify a single rule.
func (c *Config) validateUniqueRuleNames() error {
	seen := make(map[string]struct{}, len(c.Policy.Rules))
	for i, r := range c.Policy.Rules {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("policy.rules[%d]: duplicate rule name: %s", i, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// validateRuleMatches ensures every match pattern is a well-formed glob.
func (c *Config) validateRuleMatches() error {
	for i, r := range c.Policy.Rules {
		if r.Match == "" {
			continue
		}
		if _, err := filepath.Match(r.Match, ""); err != nil {
			return fmt.Errorf("policy.rules[%d]: invalid match pattern %q: %w", i, r.Match, err)
		}
	}
	return nil
}

// PolicyRules converts the configured rules for cel.NewPolicy.
func (c *Config) PolicyRules() []cel.Rule {
	rules := make([]cel.Rule, 0, len(c.Policy.Rules))
	for _, r := range c.Policy.Rules {
		rules = append(rules, cel.Rule{
			Name:      r.Name,
			Priority:  r.Priority,
			Match:     r.Match,
			Condition: r.Condition,
			Action:    cel.Action(r.Action),
		})
	}
	return rules
}

// CallPolicy compiles the configured call filter. It returns nil when there
// is nothing to filter: no rules and a default action of allow.
func (c *Config) CallPolicy() (proxy.CallPolicy, error) {
	if len(c.Policy.Rules) == 0 && c.Policy.DefaultAction != string(cel.ActionDeny) {
		return nil, nil
	}
	action := cel.Action(c.Policy.DefaultAction)
	if action == "" {
		action = cel.ActionAllow
	}
	policy, err := cel.NewPolicy(c.PolicyRules(), action)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return policy, nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "exe_name":
		return fmt.Sprintf("%s must be a bare executable name", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout' or 'file://<absolute-path>'", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g. \"5s\")", field)
	case "cel_expr":
		return fmt.Sprintf("%s must be a valid CEL expression", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

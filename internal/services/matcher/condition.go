package matcher

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ymiyake/themis/internal/entities"
)

// ConditionMatcherName is the registry name of the CEL condition matcher.
const ConditionMatcherName = "condition"

// contextKeyPattern extracts the request-context attribute keys a condition
// expression reads, so the matcher can declare them up front.
var contextKeyPattern = regexp.MustCompile(`context\.([A-Za-z_][A-Za-z0-9_]*)`)

// ConditionMatcher extends exact matching with a CEL predicate over the
// request context. This is the attribute-matcher hook: new attribute logic
// lands as rule conditions, not as engine branches.
//
// Expressions see the S-A-O-C tuple as string variables plus the request
// context map:
//
//	scope == "lib:phys-lab" && context.ip_region == "eu"
//
// Compilation happens once per distinct expression and is memoized;
// evaluation itself performs no I/O.
type ConditionMatcher struct {
	env      *cel.Env
	exact    *ExactMatcher
	programs sync.Map // condition string -> cel.Program
}

// NewConditionMatcher creates the CEL-backed condition matcher.
func NewConditionMatcher() (*ConditionMatcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("object", cel.StringType),
		cel.Variable("scope", cel.StringType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &ConditionMatcher{env: env, exact: NewExactMatcher()}, nil
}

func (m *ConditionMatcher) Name() string { return ConditionMatcherName }

// ConsultedKeys declares the S-A-O-C keys plus every context key the
// condition expression references.
func (m *ConditionMatcher) ConsultedKeys(rule *entities.Rule) []string {
	keys := m.exact.ConsultedKeys(rule)
	seen := make(map[string]bool)
	for _, match := range contextKeyPattern.FindAllStringSubmatch(rule.Condition, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			keys = append(keys, match[1])
		}
	}
	return keys
}

func (m *ConditionMatcher) Matches(req *entities.Request, rule *entities.Rule) (bool, error) {
	matched, err := m.exact.Matches(req, rule)
	if err != nil || !matched {
		return false, err
	}
	if rule.Condition == "" {
		return true, nil
	}

	program, err := m.program(rule.Condition)
	if err != nil {
		return false, err
	}

	reqContext := req.Context
	if reqContext == nil {
		reqContext = map[string]any{}
	}
	result, _, err := program.Eval(map[string]any{
		"subject": req.Subject,
		"action":  req.Action,
		"object":  req.Object,
		"scope":   req.Scope,
		"context": reqContext,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	value, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to bool, got %T", result.Value())
	}
	return value, nil
}

// ValidateRule compiles the condition and requires a boolean result, so a
// malformed expression fails the rule load instead of surfacing mid-match.
func (m *ConditionMatcher) ValidateRule(rule *entities.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Condition == "" {
		return fmt.Errorf("%w: condition matcher requires a condition expression", entities.ErrMalformedRule)
	}
	ast, issues := m.env.Compile(rule.Condition)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w: invalid condition: %v", entities.ErrMalformedRule, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("%w: condition must return bool, got %s", entities.ErrMalformedRule, ast.OutputType())
	}
	return nil
}

// program returns the compiled program for an expression, compiling and
// memoizing on first use.
func (m *ConditionMatcher) program(condition string) (cel.Program, error) {
	if cached, ok := m.programs.Load(condition); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := m.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", issues.Err())
	}
	program, err := m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build condition program: %w", err)
	}
	m.programs.Store(condition, program)
	return program, nil
}

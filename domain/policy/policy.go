// Package policy evaluates attribute-based access control rules: given a
// subject, an organization, an action, and a resource, decide whether the
// action is permitted. Rules are short JavaScript boolean predicates
// evaluated in an isolated goja runtime per call, the same way this codebase
// runs other small sandboxed script snippets against a fixed set of injected
// bindings, with no network or filesystem access available to the script and
// a hard wall-clock cap on how long any one evaluation may run.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Effect is the outcome a matching Rule produces.
type Effect string

const (
	// Allow grants the action if the rule's expression evaluates truthy.
	Allow Effect = "allow"
	// Deny rejects the action if the rule's expression evaluates truthy,
	// and short-circuits evaluation of any later rule: an explicit deny
	// always wins over an explicit allow.
	Deny Effect = "deny"
)

// evalTimeout bounds how long a single rule expression may run before its
// goja runtime is interrupted and the evaluation is treated as a failure.
const evalTimeout = 50 * time.Millisecond

// Subject is the authenticated principal an authorization check is for.
type Subject struct {
	ID    string
	Role  string
	OrgID string
}

// Resource is the object an action is being attempted against.
type Resource struct {
	Type    string
	ID      string
	OwnerID string
	OrgID   string
}

// Rule binds an action (possibly "*" for any) and resource type (possibly
// "*") to a JS boolean expression evaluated with subject/resource/action
// bound as variables, e.g. `subject.Role === "admin" || subject.ID === resource.OwnerID`.
// A rule that matches its action/resource pattern but whose expression
// evaluates falsy abstains rather than denying, leaving later rules a chance
// to decide; a request with no matching rule at all is denied by default.
type Rule struct {
	Action       string
	ResourceType string
	Effect       Effect
	Expression   string
}

func (r Rule) matches(action, resourceType string) bool {
	return (r.Action == "*" || r.Action == action) && (r.ResourceType == "*" || r.ResourceType == resourceType)
}

// Engine evaluates a fixed rule set against authorize/permissions requests.
// Deny rules are evaluated before allow rules regardless of slice order, so
// that an explicit deny can never be shadowed by an allow rule that happens
// to be listed first.
type Engine struct {
	denyRules  []Rule
	allowRules []Rule
}

// New constructs an Engine over the given rules.
func New(rules []Rule) *Engine {
	e := &Engine{}
	for _, r := range rules {
		if r.Effect == Deny {
			e.denyRules = append(e.denyRules, r)
		} else {
			e.allowRules = append(e.allowRules, r)
		}
	}
	return e
}

// Authorize reports whether subject may perform action on resource.
func (e *Engine) Authorize(ctx context.Context, subject Subject, action string, resource Resource) (bool, error) {
	for _, rule := range e.denyRules {
		if !rule.matches(action, resource.Type) {
			continue
		}
		matched, err := evaluate(rule.Expression, subject, action, resource)
		if err != nil {
			return false, fmt.Errorf("policy: evaluate deny rule for action %q on %q: %w", action, resource.Type, err)
		}
		if matched {
			return false, nil
		}
	}
	for _, rule := range e.allowRules {
		if !rule.matches(action, resource.Type) {
			continue
		}
		matched, err := evaluate(rule.Expression, subject, action, resource)
		if err != nil {
			return false, fmt.Errorf("policy: evaluate allow rule for action %q on %q: %w", action, resource.Type, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// Permissions returns the subset of candidateActions that subject is
// allowed to perform on resource, preserving candidateActions' order.
func (e *Engine) Permissions(ctx context.Context, subject Subject, resource Resource, candidateActions []string) ([]string, error) {
	allowed := make([]string, 0, len(candidateActions))
	for _, action := range candidateActions {
		ok, err := e.Authorize(ctx, subject, action, resource)
		if err != nil {
			return nil, err
		}
		if ok {
			allowed = append(allowed, action)
		}
	}
	return allowed, nil
}

func evaluate(expression string, subject Subject, action string, resource Resource) (bool, error) {
	vm := goja.New()
	if err := vm.Set("subject", subject); err != nil {
		return false, err
	}
	if err := vm.Set("resource", resource); err != nil {
		return false, err
	}
	if err := vm.Set("action", action); err != nil {
		return false, err
	}

	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("policy expression exceeded its execution budget")
	})
	defer timer.Stop()

	result, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("run expression: %w", err)
	}
	return result.ToBoolean(), nil
}

package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
)

// Policy decision sentinel errors. Rules return them, possibly wrapped,
// and callers check them with errors.Is.
var (
	// Allow terminates the evaluation with an allow decision.
	Allow = errors.New("relmap/privacy: allow rule")

	// Deny terminates the evaluation with a deny decision.
	Deny = errors.New("relmap/privacy: deny rule")

	// Skip continues the evaluation with the next rule.
	Skip = errors.New("relmap/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

type (
	// QueryRule decides whether a select is allowed and may narrow it.
	QueryRule interface {
		EvalQuery(context.Context, relmap.Query) error
	}

	// QueryPolicy combines query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether a mutation is allowed.
	MutationRule interface {
		EvalMutation(context.Context, relmap.Mutation) error
	}

	// MutationPolicy combines mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc adapts an ordinary function to the QueryRule interface.
type QueryRuleFunc func(context.Context, relmap.Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q relmap.Query) error {
	return f(ctx, q)
}

// MutationRuleFunc adapts an ordinary function to the MutationRule interface.
type MutationRuleFunc func(context.Context, relmap.Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m relmap.Mutation) error {
	return f(ctx, m)
}

// AlwaysAllowRule returns a rule allowing all selects and mutations.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule denying all selects and mutations.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a rule from a context evaluation.
// A nil result is equivalent to Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

// OnMutationOperation evaluates rule only for the given operations.
func OnMutationOperation(rule MutationRule, op relmap.Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m relmap.Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyMutationOperationRule returns a rule denying the given operations.
func DenyMutationOperationRule(op relmap.Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m relmap.Mutation) error {
		return Denyf("relmap/privacy: operation %s is not allowed on %s", m.Op(), m.EntityID())
	})
	return OnMutationOperation(rule, op)
}

// AllowMutationOperationRule returns a rule allowing the given operations.
func AllowMutationOperationRule(op relmap.Op) MutationRule {
	rule := MutationRuleFunc(func(context.Context, relmap.Mutation) error {
		return Allow
	})
	return OnMutationOperation(rule, op)
}

// Policy groups query and mutation policies.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery forwards the evaluation to the query policy.
func (p Policy) EvalQuery(ctx context.Context, q relmap.Query) error {
	return p.Query.EvalQuery(ctx, q)
}

// EvalMutation forwards the evaluation to the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, m relmap.Mutation) error {
	return p.Mutation.EvalMutation(ctx, m)
}

// Policies combines multiple policies into a single policy. An Allow from
// one of them stops the evaluation with a nil error.
type Policies []relmap.Policy

// EvalQuery evaluates the query policies.
func (policies Policies) EvalQuery(ctx context.Context, q relmap.Query) error {
	return policies.eval(ctx, func(policy relmap.Policy) error {
		return policy.EvalQuery(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies.
func (policies Policies) EvalMutation(ctx context.Context, m relmap.Mutation) error {
	return policies.eval(ctx, func(policy relmap.Policy) error {
		return policy.EvalMutation(ctx, m)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(relmap.Policy) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := eval(policy); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates the rules in order, stopping at the first decision.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q relmap.Query) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates the rules in order, stopping at the first decision.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m relmap.Mutation) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// AllEntities registers a policy for every entity type.
const AllEntities = "*"

// Registry holds the policies of entity types. The zero value is empty
// and ready to use.
type Registry struct {
	policies map[string]Policies
}

// Add registers policies for the entity type, or all types with AllEntities.
func (r *Registry) Add(entityID string, policies ...relmap.Policy) *Registry {
	if r.policies == nil {
		r.policies = make(map[string]Policies)
	}
	r.policies[entityID] = append(r.policies[entityID], policies...)
	return r
}

// For returns the policies applying to the entity type, shared ones first.
func (r *Registry) For(entityID string) Policies {
	if r == nil {
		return nil
	}
	var ps Policies
	ps = append(ps, r.policies[AllEntities]...)
	if entityID != AllEntities {
		ps = append(ps, r.policies[entityID]...)
	}
	return ps
}

// EvalQuery evaluates the policies of the selected entity type.
func (r *Registry) EvalQuery(ctx context.Context, q relmap.Query) error {
	return r.For(q.EntityID()).EvalQuery(ctx, q)
}

// EvalMutation evaluates the policies of the mutated entity type.
func (r *Registry) EvalMutation(ctx context.Context, m relmap.Mutation) error {
	return r.For(m.EntityID()).EvalMutation(ctx, m)
}

var _ relmap.Policy = (*Registry)(nil)

type decisionCtxKey struct{}

// DecisionContext returns a context carrying a decision that short cuts
// the evaluation of Policies.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
// An Allow decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, relmap.Query) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, relmap.Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ relmap.Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ relmap.Mutation) error {
	return c.eval(ctx)
}

// Filter narrows a select with additional conditions.
type Filter interface {
	Where(...condition.Condition)
}

// Filterable is implemented by queries that accept filter conditions.
type Filterable interface {
	Filter() Filter
}

// FilterFunc is a query rule receiving the filter of the select:
//
//	privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
//		f.Where(condition.EQ("deptno", deptno))
//		return privacy.Skip
//	})
type FilterFunc func(context.Context, Filter) error

// EvalQuery calls f(ctx, q.Filter()), denying queries without a filter.
func (f FilterFunc) EvalQuery(ctx context.Context, q relmap.Query) error {
	fr, ok := q.(Filterable)
	if !ok {
		return Denyf("relmap/privacy: query type %T does not support filtering", q)
	}
	return f(ctx, fr.Filter())
}

// WhereRule returns a query rule adding the condition returned by build
// to every select. A nil condition adds nothing.
func WhereRule(build func(context.Context) (condition.Condition, error)) QueryRule {
	return FilterFunc(func(ctx context.Context, f Filter) error {
		cond, err := build(ctx)
		if err != nil {
			return err
		}
		if cond != nil {
			f.Where(cond)
		}
		return Skip
	})
}

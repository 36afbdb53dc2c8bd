// Package privacy provides rule chains deciding whether entity selects and
// mutations are allowed, and rules that narrow selects with conditions.
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow grants access and stops the evaluation.
//   - Deny refuses access and stops the evaluation.
//   - Skip continues with the next rule.
//
// A chain where every rule skips allows the operation. End a chain with
// AlwaysDenyRule to deny by default.
//
// Policies are registered per entity type in a Registry, which the entity
// connection evaluates before every select and mutation:
//
//	var policies privacy.Registry
//	policies.Add("scott.emp", privacy.Policy{
//		Query: privacy.QueryPolicy{
//			privacy.HasRole("admin"),
//			privacy.TenantQueryRule("company"),
//		},
//		Mutation: privacy.MutationPolicy{
//			privacy.DenyIfNoViewer(),
//			privacy.HasRole("admin"),
//			privacy.IsOwner("created_by"),
//			privacy.AlwaysDenyRule(),
//		},
//	})
//	policies.Add("scott.dept", privacy.Policy{
//		Mutation: privacy.MutationPolicy{privacy.ReadOnlyRule()},
//	})
//
// Query rules receive a Filterable query. FilterFunc, WhereRule,
// OwnerQueryRule and TenantQueryRule add conditions to the select instead
// of deciding, so a viewer only sees the rows the conditions let through.
package privacy

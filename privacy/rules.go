package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
)

// Viewer is the authenticated user running a select or mutation.
type Viewer interface {
	GetID() string
	GetRoles() []string
	// GetTenantID returns the tenant of the viewer, empty when not applicable.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext returns the viewer of the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a Viewer holding its values.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule denying access without a viewer:
//
//	privacy.Policy{
//		Mutation: privacy.MutationPolicy{
//			privacy.DenyIfNoViewer(),
//			privacy.HasRole("admin"),
//			privacy.AlwaysDenyRule(),
//		},
//	}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("relmap/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule allowing viewers with the role.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule allowing viewers with any of the roles.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		if slices.ContainsFunc(roles, func(r string) bool { return slices.Contains(viewer.GetRoles(), r) }) {
			return Allow
		}
		return Skip
	})
}

// IsOwner returns a mutation rule allowing viewers whose id equals the
// value of the given property.
func IsOwner(property string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m relmap.Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		value, ok := m.Field(property)
		if !ok || value == nil {
			return Skip
		}
		if fmt.Sprint(value) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// OwnerQueryRule returns a query rule limiting selects to rows whose
// property holds the viewer id. Selects without a viewer are denied.
func OwnerQueryRule(property string) QueryRule {
	return FilterFunc(func(ctx context.Context, f Filter) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("relmap/privacy: viewer required for owner filtered query")
		}
		f.Where(condition.EQ(property, viewer.GetID()))
		return Skip
	})
}

// TenantRule returns a mutation rule allowing mutations of rows in the
// viewer tenant and denying the others.
func TenantRule(property string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m relmap.Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		value, ok := m.Field(property)
		if !ok || value == nil {
			return Skip
		}
		if fmt.Sprint(value) == viewer.GetTenantID() {
			return Allow
		}
		return Denyf("relmap/privacy: tenant mismatch")
	})
}

// TenantQueryRule returns a query rule limiting selects to rows of the
// viewer tenant. Selects without a viewer or tenant are denied.
func TenantQueryRule(property string) QueryRule {
	return FilterFunc(func(ctx context.Context, f Filter) error {
		viewer := ViewerFromContext(ctx)
		switch {
		case viewer == nil:
			return Denyf("relmap/privacy: viewer required for tenant filtered query")
		case viewer.GetTenantID() == "":
			return Denyf("relmap/privacy: tenant required")
		}
		f.Where(condition.EQ(property, viewer.GetTenantID()))
		return Skip
	})
}

// ReadOnlyRule returns a mutation rule denying every insert, update and
// delete, making the entity types it is registered for read only.
func ReadOnlyRule() MutationRule {
	return MutationRuleFunc(func(_ context.Context, m relmap.Mutation) error {
		return fmt.Errorf("%w: %s: %w", relmap.ErrReadOnly, m.EntityID(), Deny)
	})
}

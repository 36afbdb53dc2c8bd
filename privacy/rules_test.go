package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/privacy"
)

var (
	admin = &privacy.SimpleViewer{UserID: "7839", Roles: []string{"admin"}, TenantID: "acme"}
	clerk = &privacy.SimpleViewer{UserID: "7369", Roles: []string{"clerk"}, TenantID: "acme"}
	loner = &privacy.SimpleViewer{UserID: "1"}
)

func TestViewerContext(t *testing.T) {
	t.Parallel()
	assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	ctx := privacy.WithViewer(context.Background(), admin)
	v := privacy.ViewerFromContext(ctx)
	require.NotNil(t, v)
	assert.Equal(t, "7839", v.GetID())
	assert.Equal(t, []string{"admin"}, v.GetRoles())
	assert.Equal(t, "acme", v.GetTenantID())
}

func TestRoleRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		viewer privacy.Viewer
		rule   privacy.QueryMutationRule
		want   error
	}{
		{name: "NoViewerDenied", rule: privacy.DenyIfNoViewer(), want: privacy.Deny},
		{name: "ViewerPasses", viewer: clerk, rule: privacy.DenyIfNoViewer(), want: privacy.Skip},
		{name: "HasRole", viewer: admin, rule: privacy.HasRole("admin"), want: privacy.Allow},
		{name: "MissingRole", viewer: clerk, rule: privacy.HasRole("admin"), want: privacy.Skip},
		{name: "RoleWithoutViewer", rule: privacy.HasRole("admin"), want: privacy.Skip},
		{name: "HasAnyRole", viewer: clerk, rule: privacy.HasAnyRole("admin", "clerk"), want: privacy.Allow},
		{name: "HasNoneOfRoles", viewer: loner, rule: privacy.HasAnyRole("admin", "clerk"), want: privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			assert.ErrorIs(t, tt.rule.EvalQuery(ctx, plainQuery{}), tt.want)
			assert.ErrorIs(t, tt.rule.EvalMutation(ctx, &mockMutation{op: relmap.OpUpdate}), tt.want)
		})
	}
}

func TestIsOwner(t *testing.T) {
	t.Parallel()
	rule := privacy.IsOwner("empno")
	tests := []struct {
		name   string
		viewer privacy.Viewer
		fields map[string]any
		want   error
	}{
		{name: "Owner", viewer: clerk, fields: map[string]any{"empno": 7369}, want: privacy.Allow},
		{name: "OwnerString", viewer: clerk, fields: map[string]any{"empno": "7369"}, want: privacy.Allow},
		{name: "Other", viewer: clerk, fields: map[string]any{"empno": 7499}, want: privacy.Skip},
		{name: "Null", viewer: clerk, fields: map[string]any{"empno": nil}, want: privacy.Skip},
		{name: "Missing", viewer: clerk, want: privacy.Skip},
		{name: "NoViewer", fields: map[string]any{"empno": 7369}, want: privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			m := &mockMutation{op: relmap.OpUpdate, entity: "emp", fields: tt.fields}
			assert.ErrorIs(t, rule.EvalMutation(ctx, m), tt.want)
		})
	}
}

func TestTenantRule(t *testing.T) {
	t.Parallel()
	rule := privacy.TenantRule("company")
	ctx := privacy.WithViewer(context.Background(), admin)
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{fields: map[string]any{"company": "acme"}}), privacy.Allow)
	err := rule.EvalMutation(ctx, &mockMutation{fields: map[string]any{"company": "globex"}})
	assert.ErrorIs(t, err, privacy.Deny)
	assert.Contains(t, err.Error(), "tenant mismatch")
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Skip)

	noTenant := privacy.WithViewer(context.Background(), loner)
	assert.ErrorIs(t, rule.EvalMutation(noTenant, &mockMutation{fields: map[string]any{"company": "acme"}}), privacy.Skip)
}

func TestQueryFilterRules(t *testing.T) {
	t.Parallel()
	t.Run("Owner", func(t *testing.T) {
		t.Parallel()
		q := &mockQuery{entity: "emp"}
		ctx := privacy.WithViewer(context.Background(), clerk)
		assert.ErrorIs(t, privacy.OwnerQueryRule("empno").EvalQuery(ctx, q), privacy.Skip)
		require.Len(t, q.conds, 1)
		assert.Equal(t, "empno = 7369", q.conds[0].String())

		err := privacy.OwnerQueryRule("empno").EvalQuery(context.Background(), &mockQuery{})
		assert.ErrorIs(t, err, privacy.Deny)
	})
	t.Run("Tenant", func(t *testing.T) {
		t.Parallel()
		q := &mockQuery{entity: "emp"}
		ctx := privacy.WithViewer(context.Background(), admin)
		assert.ErrorIs(t, privacy.TenantQueryRule("company").EvalQuery(ctx, q), privacy.Skip)
		require.Len(t, q.conds, 1)
		assert.Equal(t, "company = acme", q.conds[0].String())

		assert.ErrorIs(t, privacy.TenantQueryRule("company").EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
		noTenant := privacy.WithViewer(context.Background(), loner)
		err := privacy.TenantQueryRule("company").EvalQuery(noTenant, &mockQuery{})
		assert.ErrorIs(t, err, privacy.Deny)
		assert.Contains(t, err.Error(), "tenant required")
	})
}

func TestIntegratedPolicyChain(t *testing.T) {
	t.Parallel()
	policy := privacy.Policy{
		Query: privacy.QueryPolicy{
			privacy.HasRole("admin"),
			privacy.TenantQueryRule("company"),
		},
		Mutation: privacy.MutationPolicy{
			privacy.DenyIfNoViewer(),
			privacy.HasRole("admin"),
			privacy.IsOwner("empno"),
			privacy.AlwaysDenyRule(),
		},
	}
	m := &mockMutation{op: relmap.OpUpdate, entity: "emp", fields: map[string]any{"empno": 7369}}

	assert.ErrorIs(t, policy.EvalMutation(context.Background(), m), privacy.Deny)
	assert.ErrorIs(t, policy.EvalMutation(privacy.WithViewer(context.Background(), admin), m), privacy.Allow)
	assert.ErrorIs(t, policy.EvalMutation(privacy.WithViewer(context.Background(), clerk), m), privacy.Allow)
	assert.ErrorIs(t, policy.EvalMutation(privacy.WithViewer(context.Background(), loner), m), privacy.Deny)

	q := &mockQuery{entity: "emp"}
	assert.ErrorIs(t, policy.EvalQuery(privacy.WithViewer(context.Background(), admin), q), privacy.Allow)
	assert.Empty(t, q.conds, "admins see every row")
	assert.NoError(t, policy.EvalQuery(privacy.WithViewer(context.Background(), clerk), q))
	assert.Len(t, q.conds, 1)
}

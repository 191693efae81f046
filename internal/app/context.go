// Package app resolves the active tenant and configuration for CLI and
// server entry points.
package app

import (
	"context"
	"fmt"
	"time"

	"evalline/internal/config"
	"evalline/internal/domain"
	"evalline/internal/repo"
)

// ResolveTenantAndConfig picks the active tenant and loads the workspace
// config. It prefers the explicit override, then the config default, then a
// single-tenant database. If the resolved tenant does not exist yet, it is
// created on the fly.
func ResolveTenantAndConfig(ctx context.Context, workspace, tenantOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return "", nil, err
	}
	tenantID := tenantOverride
	if tenantID == "" {
		tenantID = cfg.Workspace.DefaultTenant
	}
	if tenantID == "" {
		tenants, err := r.ListTenants(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(tenants) == 1 {
			tenantID = tenants[0].ID
		} else {
			return "", nil, fmt.Errorf("tenant not specified; use --tenant")
		}
	}
	ok, err := r.TenantExists(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		if err := r.InsertTenant(ctx, domain.Tenant{
			ID:        tenantID,
			Name:      tenantID,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return "", nil, fmt.Errorf("create tenant %s: %w", tenantID, err)
		}
	}
	return tenantID, cfg, nil
}

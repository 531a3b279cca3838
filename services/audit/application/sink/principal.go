package sink

import (
	"context"

	"github.com/ghuser/entitlements/pkg/auth"
	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// AuthPrincipals resolves event principals from the authenticated caller in
// ctx. Work without an authenticated caller is attributed to the system.
func AuthPrincipals() events.PrincipalResolver {
	return events.PrincipalFunc(func(ctx context.Context) events.Principal {
		p, err := auth.PrincipalFromCtx(ctx)
		if err != nil || p.IsSystem() {
			return events.SystemPrincipal
		}
		return events.Principal{Name: p.Name, ID: p.ID}
	})
}

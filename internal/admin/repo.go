package admin

import (
	"context"

	"github.com/antonminaichev/perfume-checkout/internal/types/admin"
)

type AdminRepository interface {
	CreateAdmin(ctx context.Context, a *admin.Admin) error
	FindAdminByLogin(ctx context.Context, login string) (*admin.Admin, error)
}

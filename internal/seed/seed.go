package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/authorization"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/uid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DemoTenantID   = snowflake.ID(1)
	DemoTenantCode = "SAIF"
	DemoPlantCode  = "KOL"

	demoActor  = "seed@saif.example"
	demoUserID = "seed"
)

// DemoMembers maps demo user ids to the role each holds in the demo tenant.
// The seed user buys, so it sees purchase prices in trees.
var DemoMembers = map[string]string{
	demoUserID:       authorization.RolePurchasing,
	"demo-inspector": authorization.RoleQuality,
	"demo-admin":     authorization.RoleAdmin,
}

var Module = fx.Module("seed",
	fx.Invoke(Register),
)

// DemoGenealogy is two raw materials assembled into one finished good.
type DemoGenealogy struct {
	RawMaterials []string
	FinishedGood string
	// Seeded is false when the tenant already had a finished good.
	Seeded bool
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
	Units     assemblydomain.Service
	Authz     authorization.Service `optional:"true"`
}

// Register seeds the demo tenant on start when SEED_DEMO is set. It never
// runs in production.
func Register(p Params) {
	if !p.Cfg.SeedDemo || p.Cfg.IsProduction() {
		return
	}
	log := p.Log.Named("seed")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			demo, err := EnsureDemoGenealogy(ctx, p.Units)
			if err != nil {
				return fmt.Errorf("seed demo genealogy: %w", err)
			}
			if p.Authz != nil {
				if err := EnsureDemoRoles(ctx, p.Authz); err != nil {
					return fmt.Errorf("seed demo roles: %w", err)
				}
			}
			log.Info("demo genealogy ready",
				zap.Bool("seeded", demo.Seeded),
				zap.String("finished_good", demo.FinishedGood),
				zap.Strings("raw_materials", demo.RawMaterials),
			)
			return nil
		},
	})
}

// DemoContext carries the identity used for every demo write.
func DemoContext(ctx context.Context) context.Context {
	return orgcontext.WithIdentity(ctx, orgcontext.Identity{
		TenantID:   DemoTenantID,
		TenantCode: DemoTenantCode,
		UserID:     demoUserID,
		Email:      demoActor,
	})
}

// EnsureDemoRoles grants every demo member its role. Re-running it keeps
// exactly one role per member.
func EnsureDemoRoles(ctx context.Context, authz authorization.Service) error {
	if authz == nil {
		return errors.New("seed authorization service is required")
	}
	for userID, role := range DemoMembers {
		member := orgcontext.Identity{
			TenantID:   DemoTenantID,
			TenantCode: DemoTenantCode,
			UserID:     userID,
		}
		if err := authz.AssignRole(ctx, member, role); err != nil {
			return fmt.Errorf("assign %s to %s: %w", role, userID, err)
		}
	}
	return nil
}

// EnsureDemoGenealogy is idempotent per tenant.
func EnsureDemoGenealogy(ctx context.Context, units assemblydomain.Service) (*DemoGenealogy, error) {
	if units == nil {
		return nil, errors.New("seed assembly service is required")
	}
	ctx = DemoContext(ctx)

	existing, err := units.List(ctx, assemblydomain.ListRequest{EntityType: string(uid.EntityTypeFinishedGood)})
	if err != nil {
		return nil, err
	}
	if len(existing.UIDs) > 0 {
		fg := existing.UIDs[0]
		unit, err := units.Get(ctx, fg.UID)
		if err != nil {
			return nil, err
		}
		return &DemoGenealogy{RawMaterials: unit.ParentUIDs, FinishedGood: fg.UID}, nil
	}

	inputs := []struct {
		entityID   string
		provenance assemblydomain.Provenance
	}{
		{"steel-tube", assemblydomain.Provenance{SupplierID: "VND-100", PurchaseOrderID: "PO-5001", GRNID: "GRN-7001"}},
		{"alloy-rim", assemblydomain.Provenance{SupplierID: "VND-200", PurchaseOrderID: "PO-5002", GRNID: "GRN-7002"}},
	}

	demo := &DemoGenealogy{Seeded: true}
	for _, in := range inputs {
		provenance := in.provenance
		unit, err := units.CreateUID(ctx, assemblydomain.CreateUIDRequest{
			EntityType: string(uid.EntityTypeRawMaterial),
			EntityID:   in.entityID,
			PlantCode:  DemoPlantCode,
			Location:   "Receiving Bay",
			Provenance: &provenance,
		})
		if err != nil {
			return nil, err
		}
		demo.RawMaterials = append(demo.RawMaterials, unit.UID)
	}

	fg, err := units.Assemble(ctx, assemblydomain.AssembleRequest{
		ParentUIDs:       demo.RawMaterials,
		OutputEntityType: string(uid.EntityTypeFinishedGood),
		OutputEntityID:   "city-bike",
		PlantCode:        DemoPlantCode,
		Location:         "Assembly Line 1",
		Workstation:      "WS-01",
		AssembledBy:      demoActor,
	})
	if err != nil {
		return nil, err
	}
	demo.FinishedGood = fg.UID
	return demo, nil
}

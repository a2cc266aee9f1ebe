package deployment

import (
	"github.com/smallbiznis/genealogy/internal/deployment/repository"
	"github.com/smallbiznis/genealogy/internal/deployment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("deployment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

package lifecycle

import (
	"github.com/smallbiznis/genealogy/internal/lifecycle/repository"
	"github.com/smallbiznis/genealogy/internal/lifecycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lifecycle.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

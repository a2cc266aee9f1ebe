package assembly

import (
	"github.com/smallbiznis/genealogy/internal/assembly/repository"
	"github.com/smallbiznis/genealogy/internal/assembly/service"
	"go.uber.org/fx"
)

var Module = fx.Module("assembly.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

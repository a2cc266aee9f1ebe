package providers

import (
	"github.com/smallbiznis/genealogy/internal/cache"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"github.com/smallbiznis/genealogy/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module wires the remote catalog behind its lookup cache and the PDF renderer.
var Module = fx.Module("providers",
	catalog.Module,
	cache.Module,
	pdf.Module,
)

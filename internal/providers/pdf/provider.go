package pdf

import (
	"context"

	"go.uber.org/fx"
)

type Provider interface {
	GenerateRecallReport(ctx context.Context, data RecallReportData) ([]byte, error)
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

var Module = fx.Module("pdf",
	fx.Provide(New),
)

package pdf

import (
	"context"
	"fmt"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type RecallReportData struct {
	RootUID        string
	RootEntityType string
	RootStatus     string
	Reason         string
	GeneratedAt    string
	GeneratedBy    string

	Rows []RecallRow

	AffectedCount      int
	FinishedGoodsCount int
}

type RecallRow struct {
	UID        string
	EntityType string
	Status     string
	Depth      int
	Location   string
}

func (p *PDFProvider) GenerateRecallReport(ctx context.Context, report RecallReportData) ([]byte, error) {
	if report.RootUID == "" {
		return nil, fmt.Errorf("recall report requires a root uid")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Recall impact report", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(7).Add(
			text.New("Source unit: "+report.RootUID, props.Text{Top: 0, Style: fontstyle.Bold}),
			text.New("Type: "+report.RootEntityType, props.Text{Top: 5}),
			text.New("Status: "+report.RootStatus, props.Text{Top: 10}),
			text.New("Reason: "+report.Reason, props.Text{Top: 15}),
		),
		col.New(5).Add(
			text.New("Generated: "+report.GeneratedAt, props.Text{Top: 0, Align: align.Right}),
			text.New("By: "+report.GeneratedBy, props.Text{Top: 5, Align: align.Right}),
			text.New(fmt.Sprintf("Affected units: %d", report.AffectedCount), props.Text{Top: 10, Align: align.Right}),
			text.New(fmt.Sprintf("Finished goods: %d", report.FinishedGoodsCount), props.Text{Top: 15, Align: align.Right}),
		),
	)

	m.AddRow(8,
		text.NewCol(5, "UID", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Type", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Depth", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Location", props.Text{Style: fontstyle.Bold, Size: 9}),
	)
	m.AddRow(2, line.NewCol(12))

	if len(report.Rows) == 0 {
		m.AddRow(8, text.NewCol(12, "No downstream units.", props.Text{Size: 9}))
	}
	for _, row := range report.Rows {
		m.AddRow(7,
			text.NewCol(5, row.UID, props.Text{Size: 8}),
			text.NewCol(2, row.EntityType, props.Text{Size: 8}),
			text.NewCol(2, row.Status, props.Text{Size: 8}),
			text.NewCol(1, strconv.Itoa(row.Depth), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, row.Location, props.Text{Size: 8}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

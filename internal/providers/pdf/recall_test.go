package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRecallReport(t *testing.T) {
	doc, err := New().GenerateRecallReport(context.Background(), RecallReportData{
		RootUID:        "UID-SAIF-KOL-RM-000001-MS",
		RootEntityType: "RAW_MATERIAL",
		RootStatus:     "CONSUMED",
		GeneratedAt:    "2026-03-01T08:00:00Z",
		Rows: []RecallRow{
			{UID: "UID-SAIF-KOL-FG-000001-AB", EntityType: "FINISHED_GOOD", Status: "DISPATCHED", Depth: 1, Location: "Depot 7"},
		},
		AffectedCount:      1,
		FinishedGoodsCount: 1,
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestGenerateRecallReportRequiresRoot(t *testing.T) {
	_, err := New().GenerateRecallReport(context.Background(), RecallReportData{})
	assert.Error(t, err)
}

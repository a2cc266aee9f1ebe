package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	traceabilitydomain "github.com/smallbiznis/genealogy/internal/traceability/domain"
)

func (s *Server) FindDescendants(c *gin.Context) {
	result, err := s.traceSvc.FindDescendants(c.Request.Context(), c.Param("uid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) TraceToSupplier(c *gin.Context) {
	traces, err := s.traceSvc.TraceToSupplier(c.Request.Context(), c.Param("uid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": traces})
}

// BuildTree redacts prices for callers without price visibility. With
// require_prices=true it fails instead.
func (s *Server) BuildTree(c *gin.Context) {
	requirePrices, err := parseOptionalBool(c.Query("require_prices"))
	if err != nil {
		AbortWithError(c, newValidationError("require_prices", "invalid_require_prices", "invalid require_prices"))
		return
	}

	tree, err := s.traceSvc.BuildTree(c.Request.Context(), traceabilitydomain.BuildTreeRequest{
		UID:           c.Param("uid"),
		RequirePrices: requirePrices != nil && *requirePrices,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tree})
}

func (s *Server) RecallImpact(c *gin.Context) {
	impact, err := s.traceSvc.RecallImpact(c.Request.Context(), c.Param("uid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": impact})
}

func (s *Server) RecallReport(c *gin.Context) {
	root := strings.TrimSpace(c.Param("uid"))
	reason := strings.TrimSpace(c.Query("reason"))

	report, err := s.traceSvc.RecallReport(c.Request.Context(), root, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "recall.export", targetTypeUID, root, map[string]any{
		"reason": reason,
		"bytes":  len(report),
	})
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="recall-%s.pdf"`, root))
	c.Data(http.StatusOK, "application/pdf", report)
}

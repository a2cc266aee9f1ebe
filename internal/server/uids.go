package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/uid"
)

const targetTypeUID = "uid"

func (s *Server) CreateUID(c *gin.Context) {
	var req assemblydomain.CreateUIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	unit, err := s.assemblySvc.CreateUID(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "uid.create", targetTypeUID, unit.UID, map[string]any{
		"entity_type": string(unit.EntityType),
		"plant_code":  unit.PlantCode,
	})
	c.JSON(http.StatusCreated, gin.H{"data": unit})
}

func (s *Server) ListUIDs(c *gin.Context) {
	var req assemblydomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assemblySvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.UIDs, "page_info": resp.PageInfo})
}

func (s *Server) GetUID(c *gin.Context) {
	unit, err := s.assemblySvc.Get(c.Request.Context(), c.Param("uid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": unit})
}

type validateUIDRequest struct {
	UID string `json:"uid"`
}

type validateUIDResponse struct {
	Valid      bool   `json:"valid"`
	TenantCode string `json:"tenant_code,omitempty"`
	PlantCode  string `json:"plant_code,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Sequence   int64  `json:"sequence,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ValidateUID checks the format and checksum only; it does not look the UID up.
func (s *Server) ValidateUID(c *gin.Context) {
	var req validateUIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	parts, err := uid.Parse(req.UID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"data": validateUIDResponse{Valid: false, Reason: err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": validateUIDResponse{
		Valid:      true,
		TenantCode: parts.TenantCode,
		PlantCode:  parts.PlantCode,
		EntityType: string(parts.EntityType),
		Sequence:   parts.Sequence,
	}})
}

func (s *Server) Assemble(c *gin.Context) {
	var req assemblydomain.AssembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.AssembledBy) == "" {
		req.AssembledBy = actorOf(c)
	}

	unit, err := s.assemblySvc.Assemble(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "uid.assemble", targetTypeUID, unit.UID, map[string]any{
		"parent_uids": unit.ParentUIDs,
		"entity_type": string(unit.EntityType),
	})
	c.JSON(http.StatusCreated, gin.H{"data": unit})
}

func (s *Server) LinkUID(c *gin.Context) {
	var req assemblydomain.LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ChildUID = c.Param("uid")
	if strings.TrimSpace(req.LinkedBy) == "" {
		req.LinkedBy = actorOf(c)
	}

	result, err := s.assemblySvc.Link(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
		s.recordAudit(c, "uid.link", targetTypeUID, result.Child.UID, map[string]any{
			"parent_uid": strings.TrimSpace(req.ParentUID),
		})
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) UpdateUIDStatus(c *gin.Context) {
	var req assemblydomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UID = c.Param("uid")
	if strings.TrimSpace(req.Actor) == "" {
		req.Actor = actorOf(c)
	}

	unit, err := s.assemblySvc.UpdateStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "uid.status_update", targetTypeUID, unit.UID, map[string]any{
		"status":   string(unit.Status),
		"override": req.Override,
		"reason":   strings.TrimSpace(req.Reason),
	})
	c.JSON(http.StatusOK, gin.H{"data": unit})
}

func (s *Server) MarkDefective(c *gin.Context) {
	var req assemblydomain.MarkDefectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UID = c.Param("uid")
	if strings.TrimSpace(req.DetectedBy) == "" {
		req.DetectedBy = actorOf(c)
	}

	note, err := s.assemblySvc.MarkDefective(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "uid.defect", targetTypeUID, strings.TrimSpace(req.UID), map[string]any{
		"severity": string(note.Severity),
	})
	c.JSON(http.StatusCreated, gin.H{"data": note})
}

func (s *Server) RecordQualityCheck(c *gin.Context) {
	var req assemblydomain.QualityCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UID = c.Param("uid")
	if strings.TrimSpace(req.Inspector) == "" {
		req.Inspector = actorOf(c)
	}

	unit, err := s.assemblySvc.RecordQualityCheck(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "uid.quality_check", targetTypeUID, unit.UID, map[string]any{
		"result": string(unit.QualityStatus),
	})
	c.JSON(http.StatusOK, gin.H{"data": unit})
}

func actorOf(c *gin.Context) string {
	identity, ok := orgcontext.IdentityFromContext(c.Request.Context())
	if !ok {
		return ""
	}
	return identity.Actor()
}

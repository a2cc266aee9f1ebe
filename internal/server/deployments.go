package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
)

const targetTypeDeployment = "deployment"

func (s *Server) CreateDeployment(c *gin.Context) {
	var req deploymentdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UID = c.Param("uid")

	issued, err := s.deploymentSvc.CreateDeployment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "deployment.create", targetTypeDeployment, issued.Deployment.ID.String(), map[string]any{
		"uid":              issued.Deployment.UID,
		"deployment_level": string(issued.Deployment.DeploymentLevel),
		"location_name":    issued.Deployment.LocationName,
	})
	c.JSON(http.StatusCreated, gin.H{"data": issued})
}

func (s *Server) GetDeploymentChain(c *gin.Context) {
	chain, err := s.deploymentSvc.GetChain(c.Request.Context(), c.Param("uid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": chain})
}

func (s *Server) GetCurrentDeployment(c *gin.Context) {
	record, err := s.deploymentSvc.GetCurrentLocation(c.Request.Context(), c.Param("uid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) SetCurrentDeployment(c *gin.Context) {
	issued, err := s.deploymentSvc.SetCurrentLocation(c.Request.Context(), deploymentdomain.SetCurrentRequest{
		UID:          c.Param("uid"),
		DeploymentID: c.Param("id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "deployment.set_current", targetTypeDeployment, issued.Deployment.ID.String(), map[string]any{
		"uid": issued.Deployment.UID,
	})
	c.JSON(http.StatusOK, gin.H{"data": issued})
}

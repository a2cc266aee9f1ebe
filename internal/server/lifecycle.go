package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	lifecycledomain "github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
)

type listLifecycleQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListLifecycle(c *gin.Context) {
	var query listLifecycleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.lifecycleSvc.ListHistory(c.Request.Context(), lifecycledomain.ListHistoryRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		UID: c.Param("uid"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "page_info": resp.PageInfo})
}

func (s *Server) AppendLifecycle(c *gin.Context) {
	var req lifecycledomain.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UID = c.Param("uid")
	if strings.TrimSpace(req.Actor) == "" {
		req.Actor = actorOf(c)
	}

	event, err := s.lifecycleSvc.Append(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "lifecycle.append", targetTypeUID, event.UID, map[string]any{
		"stage": string(event.Stage),
		"seq":   event.Seq,
	})
	c.JSON(http.StatusCreated, gin.H{"data": event})
}

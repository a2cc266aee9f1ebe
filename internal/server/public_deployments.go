package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/genealogy/internal/audit/domain"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
	"github.com/smallbiznis/genealogy/internal/deployment/token"
	"github.com/smallbiznis/genealogy/internal/observability/logger"
	"github.com/smallbiznis/genealogy/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	endpointPublicRead   = "public_deployment_read"
	endpointPublicUpdate = "public_deployment_update"
)

func (s *Server) GetPublicDeployment(c *gin.Context) {
	view, err := s.deploymentSvc.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// UpdatePublicDeployment holds a short lease on the token so that two
// submissions of the same link are not processed side by side.
func (s *Server) UpdatePublicDeployment(c *gin.Context) {
	var req deploymentdomain.PublicUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Token = c.Param("token")

	ctx := c.Request.Context()
	tokenHash := token.Hash(req.Token)
	lease, ok, err := s.limiter.LockToken(ctx, tokenHash)
	if err != nil {
		logger.FromContext(ctx).Warn("public token lock unavailable", zap.Error(err))
	} else if !ok {
		AbortWithError(c, deploymentdomain.ErrConcurrentUpdate)
		return
	} else {
		defer func() {
			if err := s.limiter.UnlockToken(ctx, lease); err != nil {
				logger.FromContext(ctx).Warn("public token unlock failed", zap.Error(err))
			}
		}()
	}

	result, err := s.deploymentSvc.UpdateViaToken(ctx, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orgID := result.OrgID
	s.writeAudit(c, &orgID, string(auditdomain.ActorTypePublicToken), nil,
		"deployment.public_update", targetTypeDeployment, result.DeploymentID.String(),
		map[string]any{
			"uid":                result.UID,
			"location_name":      result.Deployment.LocationName,
			"deployment_level":   string(result.Deployment.DeploymentLevel),
			"verification_email": req.VerificationEmail,
		},
	)
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) PublicReadRateLimit() gin.HandlerFunc {
	return s.publicRateLimit(endpointPublicRead, s.limiter.AllowRead)
}

func (s *Server) PublicUpdateRateLimit() gin.HandlerFunc {
	return s.publicRateLimit(endpointPublicUpdate, s.limiter.AllowUpdate)
}

type allowFunc func(ctx context.Context, client string) (*ratelimit.Result, error)

// publicRateLimit keys buckets by client IP. The limiter fails open when
// Redis cannot be reached.
func (s *Server) publicRateLimit(endpoint string, allow allowFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		result, err := allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("rate limiter unavailable",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "error")
			c.Next()
			return
		}

		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "exhausted")
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

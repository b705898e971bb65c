package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	HeaderAgencyID      = "X-Agency-ID"
	HeaderContributorID = "X-Contributor-ID"

	ContextAgencyID      = "agency_id"
	ContextContributorID = "contributor_id"
)

// Actor copies the caller identity headers into the gin context. The API
// gateway in front of this service authenticates callers; here the ids are
// taken on trust.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.GetHeader(HeaderAgencyID); v != "" {
			c.Set(ContextAgencyID, v)
		}
		if v := c.GetHeader(HeaderContributorID); v != "" {
			c.Set(ContextContributorID, v)
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"merlodigital/site/logging"
)

// MaintenanceKeyRequired guards operational endpoints. The key is read from
// X-API-KEY or a Bearer Authorization header and compared with keyHash. An
// empty keyHash leaves the endpoint open.
func MaintenanceKeyRequired(keyHash string) gin.HandlerFunc {
	hash := []byte(keyHash)
	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-KEY")
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" {
			logging.Warn().Str("path", c.FullPath()).Msg("maintenance request without key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No key provided"})
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			logging.Warn().Str("path", c.FullPath()).Msg("maintenance request with invalid key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid key"})
			return
		}
		c.Next()
	}
}

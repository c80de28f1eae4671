package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS builds the cross-origin policy for dashboard clients. Origins
// come from deployment configuration; an empty list falls back to the
// wildcard for single-host development setups. The surface is trimmed
// to what the profile API serves: GET and POST with JSON bodies,
// identity in query parameters rather than cookies.
func CORS(allowOrigins []string) gin.HandlerFunc {
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	return cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Accept",
			"Origin",
			"X-Requested-With",
		},
		MaxAge: 12 * time.Hour,
	})
}

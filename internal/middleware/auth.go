package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/pinnotify/internal/auth"
	"github.com/charlesng35/pinnotify/pkg/errors"
	"github.com/charlesng35/pinnotify/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"

	// StreamTicketParam is the query parameter carrying a stream ticket.
	StreamTicketParam = "ticket"
)

// Auth enforces bearer JWT authentication for the REST API.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			unauthorized(c)
			return
		}

		claims, err := jwt.ValidateToken(token, iauth.AudienceAPI)
		if err != nil {
			unauthorized(c)
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// StreamAuth authenticates a push stream handshake. A stream ticket in the
// query string is preferred; an API bearer token is accepted as well.
func StreamAuth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Query(StreamTicketParam))
		if token == "" {
			var ok bool
			if token, ok = bearerToken(c); !ok {
				unauthorized(c)
				return
			}
		}

		claims, err := jwt.ValidateToken(token, iauth.AudienceStream, iauth.AudienceAPI)
		if err != nil {
			unauthorized(c)
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// UserID returns the authenticated user id placed on the context by Auth or StreamAuth.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}

func setIdentity(c *gin.Context, claims *iauth.Claims) {
	c.Set(CtxClaimsKey, claims)
	c.Set(CtxUserIDKey, claims.UserID)
}

// Normalise all validation failures to 401
func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}

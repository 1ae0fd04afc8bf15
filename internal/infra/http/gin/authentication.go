package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"estatedesk/internal/app/inbox"
)

const (
	agentContextKey = "estatedesk.agent"
	agentHeader     = "X-Agent-ID"
)

var errMissingSubject = errors.New("auth: token has no subject")

// AgentAuth resolves the calling agent. With a secret configured it requires an HS256
// bearer token and takes the agent id from the sub claim; without one it trusts the
// X-Agent-ID header, which is meant for local runs only.
type AgentAuth struct {
	Secret []byte
	Logger *slog.Logger
}

func (m AgentAuth) Handle(c *gin.Context) {
	agentID, err := m.resolve(c)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("agent authentication failed", "error", err)
		}
		c.Next()
		return
	}
	if agentID != "" {
		c.Set(agentContextKey, agentID)
		c.Request = c.Request.WithContext(inbox.WithAgent(c.Request.Context(), agentID))
	}
	c.Next()
}

func (m AgentAuth) resolve(c *gin.Context) (string, error) {
	if len(m.Secret) == 0 {
		return strings.TrimSpace(c.GetHeader(agentHeader)), nil
	}
	raw := extractBearerToken(c.GetHeader("Authorization"))
	if raw == "" {
		return "", nil
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return m.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(sub) == "" {
		return "", errMissingSubject
	}
	return strings.TrimSpace(sub), nil
}

func currentAgent(c *gin.Context) (string, bool) {
	val, exists := c.Get(agentContextKey)
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

func requireAgent(c *gin.Context) (string, bool) {
	id, ok := currentAgent(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return "", false
	}
	return id, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

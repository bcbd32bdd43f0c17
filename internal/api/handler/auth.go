package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 72 * time.Hour

// GenerateConnToken signs a short-lived token carrying a connection id. The
// token only pins the connection for the upgrade handshake; identity is still
// established by the join event on the socket.
func GenerateConnToken(secret, connID string) (string, error) {
	claims := jwt.MapClaims{
		"conn_id": connID,
		"exp":     time.Now().Add(tokenTTL).Unix(),
		"iss":     "chatlink-service",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseConnToken validates a token and extracts the connection id.
func ParseConnToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	connID, ok := claims["conn_id"].(string)
	if !ok || connID == "" {
		return "", errors.New("token missing conn_id")
	}
	return connID, nil
}

// GetToken mints a fresh connection id and returns the signed token for it.
func (h *Handler) GetToken(c *gin.Context) {
	connID := uuid.New().String()
	token, err := GenerateConnToken(h.Cfg.JWTSecret, connID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "conn_id": connID})
}

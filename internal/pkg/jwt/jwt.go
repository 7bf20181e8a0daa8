package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Manager signs and validates access tokens.
type Manager struct {
	secret               []byte
	accessTokenExpireMin int
}

// Claims identify the caller. Agents carry their agent id in AgentID; admins
// and service callers leave it empty.
type Claims struct {
	jwt.RegisteredClaims
	UserID         uuid.UUID  `json:"user_id"`
	Role           string     `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	AgentID        *uuid.UUID `json:"agent_id,omitempty"`
}

// NewManager creates a manager whose tokens expire after accessExpMin minutes.
func NewManager(secret string, accessExpMin int) *Manager {
	return &Manager{
		secret:               []byte(secret),
		accessTokenExpireMin: accessExpMin,
	}
}

// GenerateAccessToken issues a token for a user acting in role.
func (m *Manager) GenerateAccessToken(userID uuid.UUID, role string, orgID, agentID *uuid.UUID) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(m.accessTokenExpireMin) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
		},
		UserID:         userID,
		Role:           role,
		OrganizationID: orgID,
		AgentID:        agentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses tokenString and rejects non-HMAC signing methods.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

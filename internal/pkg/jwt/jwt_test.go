package jwt

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("secret", 5)
	userID, orgID, agentID := uuid.New(), uuid.New(), uuid.New()

	token, err := m.GenerateAccessToken(userID, "agent", &orgID, &agentID)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "agent", claims.Role)
	require.NotNil(t, claims.OrganizationID)
	assert.Equal(t, orgID, *claims.OrganizationID)
	require.NotNil(t, claims.AgentID)
	assert.Equal(t, agentID, *claims.AgentID)
}

func TestValidate_Rejects(t *testing.T) {
	m := NewManager("secret", 5)
	token, err := m.GenerateAccessToken(uuid.New(), "org_admin", nil, nil)
	require.NoError(t, err)

	_, err = NewManager("other", 5).ValidateToken(token)
	assert.Error(t, err)

	expired, err := NewManager("secret", -1).GenerateAccessToken(uuid.New(), "org_admin", nil, nil)
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "super_admin"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(none)
	assert.Error(t, err)
}

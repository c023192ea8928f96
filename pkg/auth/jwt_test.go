package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTokens(t *testing.T) {
	tokens := NewServiceTokens("s3cret", 0)

	token, err := tokens.Issue("portal")
	require.NoError(t, err)

	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "portal", claims.Subject)

	_, err = NewServiceTokens("other", 0).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceTokensExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewServiceTokens("s3cret", time.Hour)
	tokens.now = func() time.Time { return now }

	token, err := tokens.Issue("portal")
	require.NoError(t, err)

	_, err = tokens.Validate(token)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = tokens.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceTokensRequireSubject(t *testing.T) {
	tokens := NewServiceTokens("s3cret", 0)
	token, err := tokens.Issue("")
	require.NoError(t, err)

	_, err = tokens.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

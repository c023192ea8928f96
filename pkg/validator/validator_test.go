package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhone(t *testing.T) {
	for _, ok := range []string{"5511911112222", "+5511911112222", "1123456789"} {
		assert.True(t, Phone(ok), ok)
	}
	for _, bad := range []string{"", "5511", "55 11 91111-2222", "abc5511911112222", "1234567890123456"} {
		assert.False(t, Phone(bad), bad)
	}
}

func TestRegister(t *testing.T) {
	v := validator.New()
	require.NoError(t, Register(v))

	type req struct {
		Destination string `validate:"required,phone"`
	}
	assert.NoError(t, v.Struct(req{Destination: "5511911112222"}))
	assert.Error(t, v.Struct(req{Destination: "5511"}))

	require.NoError(t, RegisterGin())
	require.NoError(t, RegisterGin())
}

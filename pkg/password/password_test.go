package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheck(t *testing.T) {
	hash, err := Hash("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	assert.True(t, Check("s3cret-pass", hash))
	assert.False(t, Check("wrong", hash))
	assert.False(t, Check("s3cret-pass", ""))
}

func TestHashRejectsShortPasswords(t *testing.T) {
	_, err := Hash("abc")
	assert.ErrorIs(t, err, ErrTooShort)
}

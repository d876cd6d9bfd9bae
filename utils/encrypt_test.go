package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptPhone(t *testing.T) {
	raw, err := EncryptPhone("+8613800138000")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	plain, err := DecryptPhone(raw)
	require.NoError(t, err)
	assert.Equal(t, "+8613800138000", plain)

	// 每次加密 nonce 随机，密文不等
	raw2, err := EncryptPhone("+8613800138000")
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}

func TestDecryptPhoneRejectsGarbage(t *testing.T) {
	_, err := DecryptPhone([]byte{0x01, 0x02})
	assert.Error(t, err)

	_, err = DecryptPhone(make([]byte, 64))
	assert.Error(t, err)
}

func TestHashPhoneDeterministic(t *testing.T) {
	a := HashPhone("+8613800138000")
	b := HashPhone("+8613800138000")
	c := HashPhone("+8613800138001")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

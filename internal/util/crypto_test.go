package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("token", "token"))
	assert.False(t, ConstantTimeEqual("token", "other"))
	assert.False(t, ConstantTimeEqual("token", ""))
}

func TestMaskNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5551234567", "5551****67"},
		{"5551234567@s.whatsapp.net", "5551****67"},
		{"5551234567:12@s.whatsapp.net", "5551****67"},
		{"12345", "****"},
		{"", "****"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, MaskNumber(tc.in))
		})
	}
}

func TestNormalizeNumber(t *testing.T) {
	assert.Equal(t, "15551234567", NormalizeNumber(" +1 (555) 123-4567 "))
	assert.Equal(t, "abc", NormalizeNumber("abc"))
}

func TestFormatPairingCode(t *testing.T) {
	t.Run("groups in blocks of four", func(t *testing.T) {
		assert.Equal(t, "ABCD-1234", FormatPairingCode("abcd1234"))
	})

	t.Run("is idempotent on formatted codes", func(t *testing.T) {
		assert.Equal(t, "ABCD-1234", FormatPairingCode("ABCD-1234"))
	})

	t.Run("handles empty input", func(t *testing.T) {
		assert.Equal(t, "", FormatPairingCode(""))
	})
}

func TestEncryptDecrypt(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		sealed, err := Encrypt(testKey, []byte("device-credentials"))
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), "device-credentials")

		plain, err := Decrypt(testKey, sealed)
		require.NoError(t, err)
		assert.Equal(t, "device-credentials", string(plain))
	})

	t.Run("uses a fresh nonce each time", func(t *testing.T) {
		a, _ := Encrypt(testKey, []byte("x"))
		b, _ := Encrypt(testKey, []byte("x"))
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := Encrypt("abcd", []byte("x"))
		assert.Error(t, err)
		assert.Error(t, ValidateKey("abcd"))
	})

	t.Run("rejects tampered ciphertext", func(t *testing.T) {
		sealed, _ := Encrypt(testKey, []byte("payload"))
		sealed[len(sealed)-1] ^= 0xff
		_, err := Decrypt(testKey, sealed)
		assert.Error(t, err)
	})

	t.Run("rejects truncated ciphertext", func(t *testing.T) {
		_, err := Decrypt(testKey, []byte("short"))
		assert.Error(t, err)
	})
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("3f2b8c1e-9d4a-4c55-8a6e-0f1e2d3c4b5a"))
	assert.False(t, IsValidUUID(""))
	assert.False(t, IsValidUUID(strings.ToUpper("3f2b8c1e-9d4a-4c55-8a6e-0f1e2d3c4b5a")))
}

package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return v
}

func TestParseKey(t *testing.T) {
	// 1. 64 hex chars decode to 32 bytes
	key, err := ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// 2. 32 raw bytes pass through
	key, err = ParseKey(strings.Repeat("x", 32))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// 3. Short keys are rejected, never padded
	_, err = ParseKey("too-short")
	assert.ErrorIs(t, err, ErrBadKey)

	// 4. 64 non-hex chars are treated as neither hex nor raw
	_, err = ParseKey(strings.Repeat("zz", 32))
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestVaultRoundTrip(t *testing.T) {
	v := testVault(t)

	for _, plaintext := range []string{
		"sk-test-1234567890",
		"",
		"unicode ключ 🔑",
		strings.Repeat("k", 4096),
	} {
		sealed, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEmpty(t, sealed)
		assert.Equal(t, byte(0x01), sealed[0])

		got, err := v.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestVaultCiphertextIsNotDeterministic(t *testing.T) {
	v := testVault(t)

	a, err := v.Encrypt("same-secret")
	require.NoError(t, err)
	b, err := v.Encrypt("same-secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVaultRejectsTampering(t *testing.T) {
	v := testVault(t)
	sealed, err := v.Encrypt("sk-live-abcdef")
	require.NoError(t, err)

	// 1. Any single flipped byte must fail, wherever it lands
	for i := range sealed {
		mutated := append([]byte(nil), sealed...)
		mutated[i] ^= 0xFF
		_, err := v.Decrypt(mutated)
		assert.Error(t, err, "flip at offset %d", i)
	}

	// 2. Truncation below the minimum frame is rejected outright
	_, err = v.Decrypt(sealed[:8])
	assert.ErrorIs(t, err, ErrTruncated)

	// 3. Unknown version byte is rejected before any GCM work
	mutated := append([]byte(nil), sealed...)
	mutated[0] = 0x7F
	_, err = v.Decrypt(mutated)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestVaultWrongKey(t *testing.T) {
	v1 := testVault(t)
	v2, err := New(bytes.Repeat([]byte{0x24}, 32))
	require.NoError(t, err)

	sealed, err := v1.Encrypt("secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestVaultBadKeySize(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestVaultVerify(t *testing.T) {
	v := testVault(t)
	assert.NoError(t, v.Verify())
}

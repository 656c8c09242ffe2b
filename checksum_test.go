package course_archiver

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChecksum(t *testing.T) {
	digest := strings.Repeat("ab", 32)

	c, err := ParseChecksum("sha256:" + digest)
	require.NoError(t, err)
	assert.Equal(t, Checksum{Algorithm: "sha256", Hex: digest}, c)

	c, err = ParseChecksum(digest)
	require.NoError(t, err)
	assert.Equal(t, "sha256", c.Algorithm, "bare hex defaults to sha256")

	c, err = ParseChecksum("MD5:" + strings.Repeat("0f", 16))
	require.NoError(t, err)
	assert.Equal(t, "md5", c.Algorithm)

	_, err = ParseChecksum("crc32:abcdef")
	assert.ErrorIs(t, err, ErrUnknownChecksumAlgorithm)

	_, err = ParseChecksum("sha256:not-hex")
	assert.Error(t, err)

	_, err = ParseChecksum("sha256:")
	assert.Error(t, err)
}

func TestVerifyReader(t *testing.T) {
	body := []byte("course video bytes")
	sum := sha256.Sum256(body)
	c, err := ParseChecksum(hex.EncodeToString(sum[:]))
	require.NoError(t, err)

	assert.NoError(t, c.VerifyReader(strings.NewReader(string(body))))

	err = c.VerifyReader(strings.NewReader("tampered"))
	var checksumErr *ChecksumError
	require.ErrorAs(t, err, &checksumErr)
	assert.Equal(t, c.String(), checksumErr.Want)
	assert.NotEqual(t, checksumErr.Want, checksumErr.Got)
}

package course_archiver

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

var ErrUnknownChecksumAlgorithm = errors.New("unknown checksum algorithm")

// A Checksum is an expected content digest in "<algo>:<hex>" form. A bare hex
// string is treated as sha256.
type Checksum struct {
	Algorithm string
	Hex       string
}

func ParseChecksum(s string) (Checksum, error) {
	algo, digest := "sha256", s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		algo, digest = strings.ToLower(s[:i]), s[i+1:]
	}
	switch algo {
	case "sha256", "md5":
	default:
		return Checksum{}, fmt.Errorf("%w: %v", ErrUnknownChecksumAlgorithm, algo)
	}
	if _, err := hex.DecodeString(digest); err != nil || digest == "" {
		return Checksum{}, fmt.Errorf("invalid %v digest %q", algo, digest)
	}
	return Checksum{Algorithm: algo, Hex: strings.ToLower(digest)}, nil
}

func (c Checksum) String() string {
	return c.Algorithm + ":" + c.Hex
}

func (c Checksum) newHash() hash.Hash {
	switch c.Algorithm {
	case "md5":
		return md5.New()
	default:
		return sha256.New()
	}
}

// VerifyReader digests r and returns a *ChecksumError if it doesn't match.
func (c Checksum) VerifyReader(r io.Reader) error {
	h := c.newHash()
	if _, err := io.Copy(h, r); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != c.Hex {
		return &ChecksumError{Want: c.String(), Got: c.Algorithm + ":" + got}
	}
	return nil
}

// VerifyFile is VerifyReader against the contents of the named file.
func (c Checksum) VerifyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.VerifyReader(f)
}

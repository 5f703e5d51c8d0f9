package checksum

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func SHA1(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks data against the expected digests. SHA-256 wins when both
// are present; with neither present the data passes as-is.
func Verify(data []byte, sha256Hex string, sha1Hex string) bool {
	if sha256Hex != "" {
		return strings.EqualFold(SHA256(data), sha256Hex)
	}
	if sha1Hex != "" {
		return strings.EqualFold(SHA1(data), sha1Hex)
	}
	return true
}

// VerifyFile is Verify for on-disk files, streaming so large archives are
// never held in memory.
func VerifyFile(path string, sha256Hex string, sha1Hex string) (bool, error) {
	if sha256Hex == "" && sha1Hex == "" {
		return true, nil
	}
	var h hash.Hash
	expected := sha256Hex
	if sha256Hex != "" {
		h = sha256.New()
	} else {
		h = sha1.New()
		expected = sha1Hex
	}
	actual, err := sumFile(path, h)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expected), nil
}

func FileSHA256(path string) (string, error) {
	return sumFile(path, sha256.New())
}

func sumFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening file for hashing: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("error hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

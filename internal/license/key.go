package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gmflicense/pkg/contracts/domain"
)

// KeyPrefix is the literal first segment of every license key
const KeyPrefix = "GMF"

var keyPattern = regexp.MustCompile(`^GMF-\d{4}-[A-Z]{3}-[0-9A-F]{8}$`)

// KeyParts are the four segments of a license key
type KeyParts struct {
	Prefix      string
	Year        int
	ProductCode string
	Hash        string
}

// ValidateKeyFormat returns ErrMalformedKey unless key matches the license key pattern.
func ValidateKeyFormat(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrMalformedKey
	}
	return nil
}

// IsValidKey reports whether key matches the license key pattern
func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ParseKey splits a well-formed key into its segments
func ParseKey(key string) (KeyParts, error) {
	if err := ValidateKeyFormat(key); err != nil {
		return KeyParts{}, err
	}

	segments := strings.Split(key, "-")
	year, err := strconv.Atoi(segments[1])
	if err != nil {
		return KeyParts{}, ErrMalformedKey
	}

	return KeyParts{
		Prefix:      segments[0],
		Year:        year,
		ProductCode: segments[2],
		Hash:        segments[3],
	}, nil
}

// GenerateKey issues a new key for productCode stamped with the year of now.
func GenerateKey(productCode string, now time.Time) (string, error) {
	if !slices.Contains(domain.ProductCodes, productCode) {
		return "", fmt.Errorf("%w: unknown product code %q", ErrInvalidRequest, productCode)
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return fmt.Sprintf("%s-%04d-%s-%s", KeyPrefix, now.Year(), productCode, strings.ToUpper(hex.EncodeToString(buf))), nil
}

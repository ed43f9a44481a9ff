// pkg/expression/functions.go
package expression

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// maskKeep is the number of trailing characters mask leaves visible
const maskKeep = 4

var patternCache sync.Map // pattern -> *regexp.Regexp

// compilePattern returns a cached compiled regular expression
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// regexpMatch reports whether s contains a match of pattern
func regexpMatch(pattern, s string) (bool, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

// regexpReplace replaces every match of pattern in s
func regexpReplace(s, pattern, replacement string) (string, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return "", err
	}
	return re.ReplaceAllString(s, replacement), nil
}

// maskString hides all but the last four characters
func maskString(s string) string {
	runes := []rune(s)
	if len(runes) <= maskKeep {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-maskKeep) + string(runes[len(runes)-maskKeep:])
}

// hashString returns the hex SHA-2 digest of s. Zero bits means 256.
func hashString(s string, bits int) (string, error) {
	switch bits {
	case 0, 256:
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:]), nil
	case 224:
		sum := sha256.Sum224([]byte(s))
		return hex.EncodeToString(sum[:]), nil
	case 384:
		sum := sha512.Sum384([]byte(s))
		return hex.EncodeToString(sum[:]), nil
	case 512:
		sum := sha512.Sum512([]byte(s))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported sha2 bit length %d", bits)
	}
}

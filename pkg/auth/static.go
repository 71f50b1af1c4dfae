package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies service tokens accepted by StaticTokenAuthenticator
	TokenPrefix = "credits_"
	// minTokenLength excludes trivially guessable tokens
	minTokenLength = len(TokenPrefix) + 16
)

// StaticTokenAuthenticator accepts a fixed set of service tokens
type StaticTokenAuthenticator struct {
	// token hash -> user ID
	users map[string]string
}

// NewStaticTokenAuthenticator builds an authenticator from token -> user ID pairs
func NewStaticTokenAuthenticator(tokens map[string]string) (*StaticTokenAuthenticator, error) {
	users := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		if err := ValidateTokenFormat(token); err != nil {
			return nil, err
		}
		if userID == "" {
			return nil, fmt.Errorf("token %s has no user", TokenDisplayPrefix(token))
		}
		users[HashToken(token)] = userID
	}
	return &StaticTokenAuthenticator{users: users}, nil
}

// ParseStaticTokens parses "token:user,token:user" as used in configuration
func ParseStaticTokens(s string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, ":")
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("invalid static token entry %q: expected token:user", TokenDisplayPrefix(pair))
		}
		tokens[token] = userID
	}
	return tokens, nil
}

// Authenticate looks up the hash of rawToken
func (a *StaticTokenAuthenticator) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(rawToken, TokenPrefix) {
		return nil, fmt.Errorf("%w: not a service token", ErrInvalidToken)
	}

	hash := HashToken(rawToken)
	for stored, userID := range a.users {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(hash)) == 1 {
			return &Identity{UserID: userID, Method: "static"}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown service token", ErrInvalidToken)
}

// Len returns the number of configured tokens
func (a *StaticTokenAuthenticator) Len() int {
	return len(a.users)
}

// HashToken computes the SHA256 hash of a token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks the prefix and minimum length of a service token
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	if len(token) < minTokenLength {
		return fmt.Errorf("token is too short")
	}
	return nil
}

// TokenDisplayPrefix returns a loggable prefix of a token
func TokenDisplayPrefix(token string) string {
	if len(token) <= len(TokenPrefix)+4 {
		return TokenPrefix + "..."
	}
	return token[:len(TokenPrefix)+4] + "..."
}

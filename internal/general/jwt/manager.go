package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken         = errors.New("token missing")
	ErrInvalidSigningAlgo = errors.New("unexpected signing method")
	ErrSubjectMismatch    = errors.New("token subject does not match client id")
	ErrRoleForbidden      = errors.New("role not allowed")
)

// Manager handles JWT creation and validation.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
}

// NewManager creates a token manager.
func NewManager(secret string, accessTTL time.Duration) *Manager {
	s := strings.TrimSpace(secret)
	if s == "" {
		panic("jwt: empty secret key")
	}

	return &Manager{
		secret:    []byte(s),
		accessTTL: accessTTL,
	}
}

// IssueClientToken returns a signed access token for a driver or viewer.
func (m *Manager) IssueClientToken(clientID, role string) (string, *Claims, error) {
	if strings.TrimSpace(clientID) == "" {
		return "", nil, errors.New("jwt: empty client id")
	}

	claims := NewClaims(clientID, role, m.accessTTL)
	tkn := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := tkn.SignedString(m.secret)

	return signed, claims, err
}

// ParseAndValidate verifies signature and standard claims.
func (m *Manager) ParseAndValidate(tokenString string) (*jwtlib.Token, *Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, nil, ErrEmptyToken
	}

	// create parser with expected signing method
	parser := jwtlib.NewParser(jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))

	// validate claims and signature
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwtlib.Token) (any, error) {
		if t.Method != jwtlib.SigningMethodHS256 {
			return nil, ErrInvalidSigningAlgo
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, nil, err
	}

	if !token.Valid {
		return nil, nil, errors.New("invalid token")
	}

	return token, claims, nil
}

// VerifyRegister validates the token carried by a register frame: the
// signature must check out, the subject must equal the registering client id,
// and the role claim must match the declared role.
func (m *Manager) VerifyRegister(tokenString, clientID, role string) (*Claims, error) {
	_, claims, err := m.ParseAndValidate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != clientID {
		return nil, fmt.Errorf("%w: subject %q, client %q", ErrSubjectMismatch, claims.Subject, clientID)
	}
	if claims.Role != role {
		return nil, fmt.Errorf("%w: token role %q, declared %q", ErrRoleForbidden, claims.Role, role)
	}
	return claims, nil
}

// Package operator is the authentication boundary in front of publishing.
// Credentials come from configuration (a username and a bcrypt hash); a
// successful login yields a short-lived signed session token.
package operator

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks a username/password pair.
type Authenticator interface {
	Authenticate(username, password string) bool
}

// StaticAuthenticator holds a single configured operator.
type StaticAuthenticator struct {
	username []byte
	hash     []byte
	// dummy is compared against when the username is wrong so both paths
	// cost one bcrypt comparison.
	dummy []byte
}

func NewStaticAuthenticator(username, passwordHash string) (*StaticAuthenticator, error) {
	if username == "" || passwordHash == "" {
		return nil, errors.New("operator username and password hash are required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("operator password hash is not a bcrypt hash: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("certledger-dummy-password"), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("could not prepare dummy hash: %w", err)
	}
	return &StaticAuthenticator{
		username: []byte(username),
		hash:     []byte(passwordHash),
		dummy:    dummy,
	}, nil
}

func (a *StaticAuthenticator) Authenticate(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), a.username) == 1
	hash := a.dummy
	if userOK {
		hash = a.hash
	}
	passOK := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
	return userOK && passOK
}

// HashPassword produces the value for OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errors.New("password is too long")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinLength is the shortest password accepted at signup or user creation
const MinLength = 6

// ErrTooShort is returned by Hash for passwords shorter than MinLength
var ErrTooShort = errors.New("password too short")

// Hash hashes the plain-text password
func Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", ErrTooShort
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(bytes), err
}

// Check compares a bcrypt hash with a plain-text password
func Check(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

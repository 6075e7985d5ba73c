package secrets

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenPrefix = "thr_"

// NewAPIToken returns a fresh bearer token. Only its hash should be stored.
func NewAPIToken() string {
	return tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HashToken hashes a token using bcrypt.
func HashToken(token string, cost ...int) (string, error) {
	c := bcrypt.DefaultCost
	if len(cost) > 0 {
		c = cost[0]
	}
	b, err := bcrypt.GenerateFromPassword([]byte(token), c)
	return string(b), err
}

// CheckToken compares a token with its hash.
func CheckToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

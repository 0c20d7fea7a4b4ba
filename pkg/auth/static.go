package auth

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// StaticTokenVerifier accepts "uid:secret" bearer tokens for service
// accounts. Secrets are stored as bcrypt hashes keyed by uid.
type StaticTokenVerifier struct {
	hashes map[string][]byte
}

func NewStaticTokenVerifier(hashes map[string]string) *StaticTokenVerifier {
	v := &StaticTokenVerifier{hashes: make(map[string][]byte, len(hashes))}
	for uid, hash := range hashes {
		v.hashes[uid] = []byte(hash)
	}
	return v
}

func (v *StaticTokenVerifier) Verify(r *http.Request) (*Claims, error) {
	raw, ok := GetBearer(r)
	if !ok {
		return nil, ErrUnauthenticated
	}
	uid, secret, found := strings.Cut(raw, ":")
	if !found || uid == "" {
		return nil, ErrUnauthenticated
	}
	hash, ok := v.hashes[uid]
	if !ok {
		return nil, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return &Claims{UID: uid, Method: "static"}, nil
}

// HashSecret returns the bcrypt hash to put in the static token table.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

package store

import "golang.org/x/crypto/bcrypt"

// HashPassword salts and hashes password for persistence, the Go analogue of
// the reference implementation's crypt(password, mksalt()).
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether password matches hash, using the salt
// embedded in hash and a constant-time comparison — the Go analogue of
// computing crypt(password, stored_hash) and comparing with
// hmac.compare_digest.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

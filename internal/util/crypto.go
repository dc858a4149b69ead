package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const SessionIDLength = 9

var sessionIDSpace = big.NewInt(1_000_000_000)

// GenerateSessionID returns SessionIDLength random decimal digits. Leading
// zeros are kept, so every id has the same width.
func GenerateSessionID() (string, error) {
	n, err := rand.Int(rand.Reader, sessionIDSpace)
	if err != nil {
		return "", err
	}
	id := n.String()
	for len(id) < SessionIDLength {
		id = "0" + id
	}
	return id, nil
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

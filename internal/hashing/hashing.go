package hashing

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
)

// Calculate returns the hex encoded SHA-512 of data, the digest sawtooth
// expects in transaction headers and state addresses.
func Calculate(data []byte) string {
	h := sha512.Sum512(data)
	return hex.EncodeToString(h[:])
}

func CalculateSHA512(s string) string {
	return Calculate([]byte(s))
}

func CalculateSHA256(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

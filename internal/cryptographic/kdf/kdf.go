package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	InfoToken    = "gateway/token/v1"
	InfoAnnounce = "gateway/announce/v1"

	KeySize = 64
)

// HKDF fills buffer with HKDF-SHA256(secret, salt, info) output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveKey gives every consumer of the shared gateway secret its own key,
// so a token key never verifies an announcement and vice versa.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := HKDF(secret, nil, []byte(info), key); err != nil {
		return nil, err
	}
	return key, nil
}

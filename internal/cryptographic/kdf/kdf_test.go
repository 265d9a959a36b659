package kdf

import (
	"bytes"
	"testing"
)

func TestDeriveKeySeparatesPurposes(t *testing.T) {
	secret := []byte("shared gateway secret")

	tok, err := DeriveKey(secret, InfoToken)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	ann, err := DeriveKey(secret, InfoAnnounce)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(tok) != KeySize || len(ann) != KeySize {
		t.Fatalf("unexpected key sizes %d %d", len(tok), len(ann))
	}
	if bytes.Equal(tok, ann) {
		t.Fatalf("token and announce keys must differ")
	}

	again, _ := DeriveKey(secret, InfoToken)
	if !bytes.Equal(tok, again) {
		t.Fatalf("derivation is not deterministic")
	}
}

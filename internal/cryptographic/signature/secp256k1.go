package signature

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"

	"query_gateway/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const (
	SignatureLength = 65
	MaxMessageSize  = 4096
)

// TextHash is keccak256("\x19Ethereum Signed Message:\n" + len(message) + message),
// the digest wallets sign for personal_sign.
func TextHash(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("\x19Ethereum Signed Message:\n"))
	h.Write([]byte(strconv.Itoa(len(message))))
	h.Write(message)
	return h.Sum(nil)
}

func NewSecp256k1Keypair() (*ecdsa.PrivateKey, model.Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, model.Identity{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// Sign produces a 65-byte r||s||v signature over TextHash(message) with
// v in {27, 28}.
func Sign(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(TextHash(message), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func Recover(message, signature []byte) (model.Identity, error) {
	if len(message) == 0 || len(message) > MaxMessageSize {
		return model.Identity{}, fmt.Errorf("%w: message size %d", model.ErrMalformedInput, len(message))
	}
	if len(signature) != SignatureLength {
		return model.Identity{}, fmt.Errorf("%w: length %d", model.ErrInvalidSignature, len(signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return model.Identity{}, fmt.Errorf("%w: out of range values", model.ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(TextHash(message), sig)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", model.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify recovers the signer and requires it to be declared.
func Verify(message, signature []byte, declared model.Identity) (model.Identity, error) {
	id, err := Recover(message, signature)
	if err != nil {
		return model.Identity{}, err
	}
	if id != declared {
		return model.Identity{}, fmt.Errorf("%w: recovered %s", model.ErrInvalidSignature, id.Hex())
	}
	return id, nil
}

func ParseIdentity(s string) (model.Identity, error) {
	if !common.IsHexAddress(s) {
		return model.Identity{}, fmt.Errorf("%w: bad address %q", model.ErrMalformedInput, s)
	}
	return common.HexToAddress(s), nil
}

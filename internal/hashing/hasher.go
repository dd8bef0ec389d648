package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"portal-service/internal/config"

	"golang.org/x/crypto/argon2"
)

var ErrMissingPepper = errors.New("hashing pepper is not configured")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// Hasher produces keyed fingerprints for identifiers that must not appear in
// logs or cache keys in the clear, and derives symmetric keys from operator
// secrets.
type Hasher struct {
	params Argon2Params
	pepper []byte
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	if cfg.Hashing.Pepper == "" {
		return nil, ErrMissingPepper
	}
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		KeyLength:   32,
	}
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 2
	}
	return &Hasher{params: params, pepper: []byte(cfg.Hashing.Pepper)}, nil
}

// Fingerprint is HMAC-SHA256(pepper, purpose ":" value), hex encoded.
// The purpose keeps fingerprints of different identifier kinds apart.
func (h *Hasher) Fingerprint(purpose, value string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(purpose))
	mac.Write([]byte{':'})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Hasher) PhoneFingerprint(phone string) string {
	return h.Fingerprint("phone", phone)
}

// DeriveKey stretches secret into a 32-byte key with Argon2id.
func (h *Hasher) DeriveKey(secret, salt string) []byte {
	return argon2.IDKey(
		[]byte(secret),
		[]byte(salt),
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)
}

// Equal compares two short secrets without leaking where they differ.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

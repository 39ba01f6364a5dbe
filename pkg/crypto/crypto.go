// Package crypto implements the encryption-at-rest primitives: Argon2id key
// derivation, ChaCha20-Poly1305 authenticated encryption, and the
// EncryptedContainer envelope format pages are wrapped in on disk.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const component = "crypto"

// verifyDomainSeparator is appended to the derived key before hashing so the
// verification hash can never collide with the raw key's SHA-256 digest.
const verifyDomainSeparator = "NOUS_VERIFY"

// EncryptedMagic tags every EncryptedContainer so readers can distinguish
// encrypted page bytes from plain JSON with a single prefix check.
const EncryptedMagic = "NOUS_ENC_V1"

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize // 12
	keySize   = 32
)

// Argon2Params pins the KDF cost parameters. Defaults match
// original_source/src-tauri/src/encryption/crypto.rs's Argon2Params::default().
type Argon2Params struct {
	MemoryKiB   uint32 `json:"memoryKiB"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultArgon2Params is m=64MiB, t=3, p=1, as required by spec.md §4.1.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 1}
}

// Key is a derived 256-bit symmetric key.
type Key [keySize]byte

// GenerateSalt returns a fresh base64-encoded random salt.
func GenerateSalt() (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", core.IO(component, fmt.Errorf("generate salt: %w", err))
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// DeriveKey runs Argon2id over password+salt with the given cost parameters.
// Deterministic: the same (password, salt, params) always yields the same key.
func DeriveKey(password, saltB64 string, params Argon2Params) (Key, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return Key{}, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "invalid_salt", Err: err}
	}
	raw := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, keySize)
	var k Key
	copy(k[:], raw)
	return k, nil
}

// CreateVerificationHash returns a base64 SHA-256 digest of the key plus a
// fixed domain separator, stored alongside the salt so a later
// VerifyPassword call can confirm a guess without ever persisting the key.
func CreateVerificationHash(key Key) string {
	h := sha256.New()
	h.Write(key[:])
	h.Write([]byte(verifyDomainSeparator))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyPassword derives the key for password+salt and checks it against
// expectedHash. Returns core.ErrInvalidPassword (via Kind/Reason) on mismatch.
func VerifyPassword(password, saltB64, expectedHash string) (Key, error) {
	key, err := DeriveKey(password, saltB64, DefaultArgon2Params())
	if err != nil {
		return Key{}, err
	}
	if CreateVerificationHash(key) != expectedHash {
		return Key{}, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "invalid_password"}
	}
	return key, nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305 under a fresh random nonce.
// The returned ciphertext has the 16-byte authentication tag appended, per
// the AEAD API's convention.
func Encrypt(plaintext []byte, key Key) (ciphertext []byte, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "encryption_failed", Err: err}
	}
	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, core.IO(component, fmt.Errorf("generate nonce: %w", err))
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext (tag included) sealed by Encrypt. Any tampering
// with ciphertext, tag, or nonce, or use of the wrong key, fails closed.
func Decrypt(ciphertext, nonce []byte, key Key) ([]byte, error) {
	if len(nonce) != nonceSize {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "decryption_failed",
			Err: fmt.Errorf("invalid nonce size: expected %d, got %d", nonceSize, len(nonce))}
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "decryption_failed", Err: err}
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "decryption_failed", Err: err}
	}
	return plaintext, nil
}

// ContainerMetadata carries everything but the ciphertext bytes needed to
// decrypt and validate an EncryptedContainer.
type ContainerMetadata struct {
	Nonce        string       `json:"nonce"`
	ContentType  string       `json:"contentType"`
	OriginalSize uint64       `json:"originalSize"`
	Argon2Params Argon2Params `json:"argon2Params"`
}

// EncryptedContainer is the JSON envelope written to disk/remote in place
// of plaintext when a notebook or library has encryption enabled
// (spec.md §3 "EncryptedContainer", §6.3).
type EncryptedContainer struct {
	Magic      string             `json:"magic"`
	Metadata   ContainerMetadata  `json:"metadata"`
	Ciphertext string             `json:"ciphertext"`
	Tag        string             `json:"tag"`
}

const tagSize = 16

// EncryptToContainer encrypts plaintext and wraps the result in a
// serializable EncryptedContainer, splitting the AEAD output into a
// ciphertext field and a separate tag field to match the on-disk format.
func EncryptToContainer(plaintext []byte, key Key, contentType string) (*EncryptedContainer, error) {
	sealed, nonce, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < tagSize {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "encryption_failed",
			Err: fmt.Errorf("sealed output shorter than tag size")}
	}
	cipherOnly := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return &EncryptedContainer{
		Magic: EncryptedMagic,
		Metadata: ContainerMetadata{
			Nonce:        base64.StdEncoding.EncodeToString(nonce),
			ContentType:  contentType,
			OriginalSize: uint64(len(plaintext)),
			Argon2Params: DefaultArgon2Params(),
		},
		Ciphertext: base64.StdEncoding.EncodeToString(cipherOnly),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// DecryptFromContainer reverses EncryptToContainer.
func DecryptFromContainer(c *EncryptedContainer, key Key) ([]byte, error) {
	if c.Magic != EncryptedMagic {
		return nil, core.ErrInvalidMagic
	}
	nonce, err := base64.StdEncoding.DecodeString(c.Metadata.Nonce)
	if err != nil {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "decryption_failed", Err: err}
	}
	cipherOnly, err := base64.StdEncoding.DecodeString(c.Ciphertext)
	if err != nil {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "decryption_failed", Err: err}
	}
	tag, err := base64.StdEncoding.DecodeString(c.Tag)
	if err != nil {
		return nil, &core.Error{Kind: core.KindEncryption, Component: component, Reason: "decryption_failed", Err: err}
	}
	sealed := append(append([]byte{}, cipherOnly...), tag...)
	return Decrypt(sealed, nonce, key)
}

// EncryptJSON marshals v and encrypts the result.
func EncryptJSON(v any, key Key) (*EncryptedContainer, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, core.Serialization(component, err)
	}
	return EncryptToContainer(b, key, "application/json")
}

// DecryptJSON decrypts c and unmarshals the plaintext into v.
func DecryptJSON(c *EncryptedContainer, key Key, v any) error {
	plaintext, err := DecryptFromContainer(c, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return core.Serialization(component, err)
	}
	return nil
}

// IsEncryptedFile reports whether text looks like a serialized
// EncryptedContainer, so readers can branch before attempting a plain JSON
// parse (spec.md "Encrypted-aware reads").
func IsEncryptedFile(text []byte) bool {
	c, err := ParseEncryptedFile(text)
	return err == nil && c != nil
}

// ParseEncryptedFile parses text as an EncryptedContainer, returning nil
// (no error) if it doesn't look like one so callers can fall through to
// plain JSON parsing.
func ParseEncryptedFile(text []byte) (*EncryptedContainer, error) {
	var probe struct {
		Magic string `json:"magic"`
	}
	if err := json.Unmarshal(text, &probe); err != nil || probe.Magic != EncryptedMagic {
		return nil, nil
	}
	var c EncryptedContainer
	if err := json.Unmarshal(text, &c); err != nil {
		return nil, core.Serialization(component, err)
	}
	return &c, nil
}

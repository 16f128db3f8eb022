package signature

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"sync"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Verify reports whether signatureB64 is a valid signature of payload under
// key. A signature that is not base64 never verifies.
func Verify(key PublicKey, payload []byte, signatureB64 string) bool {
	sig, err := decodeBase64(signatureB64)
	if err != nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(payload)

	switch key.alg {
	case RSA:
		return rsa.VerifyPKCS1v15(key.rsa, crypto.SHA256, digest[:], sig) == nil
	case Ed25519:
		if len(sig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(key.ed25519, digest[:], sig)
	case Dilithium3:
		if len(sig) != mode3.SignatureSize {
			return false
		}
		return mode3.Verify(key.dilithium3, digest[:], sig)
	}
	return false
}

// decodeBase64 is strict: unused trailing bits must be zero, so every
// distinct signature string decodes to distinct bytes or fails.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.Strict().DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.Strict().DecodeString(s)
}

// Verifier checks a payload against a PEM public key. The error is reserved
// for keys that cannot be parsed; a bad signature is (false, nil).
type Verifier interface {
	Verify(publicKeyPEM string, payload []byte, signatureB64 string) (bool, error)
}

// KeyCache is the default Verifier. Parsed keys are kept per PEM text.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[string]PublicKey
}

var _ Verifier = (*KeyCache)(nil)

func NewVerifier() *KeyCache {
	return &KeyCache{keys: make(map[string]PublicKey)}
}

func (c *KeyCache) Verify(publicKeyPEM string, payload []byte, signatureB64 string) (bool, error) {
	key, err := c.key(publicKeyPEM)
	if err != nil {
		return false, err
	}
	return Verify(key, payload, signatureB64), nil
}

func (c *KeyCache) key(text string) (PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[text]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := ParsePublicKey(text)
	if err != nil {
		return PublicKey{}, err
	}
	c.mu.Lock()
	c.keys[text] = key
	c.mu.Unlock()
	return key, nil
}

// Func adapts a plain function to Verifier.
type Func func(publicKeyPEM string, payload []byte, signatureB64 string) (bool, error)

func (f Func) Verify(publicKeyPEM string, payload []byte, signatureB64 string) (bool, error) {
	return f(publicKeyPEM, payload, signatureB64)
}

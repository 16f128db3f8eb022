// Package signature verifies that a payload string was signed by the holder
// of a public key. The digest is always SHA-256 of the payload bytes.
//
// Supported keys:
//   - RSA (PKIX "PUBLIC KEY" or PKCS#1 "RSA PUBLIC KEY"), PKCS#1 v1.5
//   - Ed25519 (PKIX "PUBLIC KEY"), signature over the digest
//   - Dilithium3 ("DILITHIUM3 PUBLIC KEY", raw circl encoding), signature
//     over the digest
//
// A PEM body without armour is accepted as base64 DER.
package signature

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

type Algorithm string

const (
	RSA        Algorithm = "rsa"
	Ed25519    Algorithm = "ed25519"
	Dilithium3 Algorithm = "dilithium3"
)

const (
	pemPublicKey           = "PUBLIC KEY"
	pemRSAPublicKey        = "RSA PUBLIC KEY"
	pemDilithium3PublicKey = "DILITHIUM3 PUBLIC KEY"
)

var ErrUnsupportedKey = errors.New("signature: unsupported public key")

// PublicKey is a parsed verification key.
type PublicKey struct {
	alg        Algorithm
	rsa        *rsa.PublicKey
	ed25519    ed25519.PublicKey
	dilithium3 *mode3.PublicKey
}

func (k PublicKey) Algorithm() Algorithm {
	return k.alg
}

// ParsePublicKey reads a PEM encoded public key. Indentation in front of
// the PEM lines is ignored.
func ParsePublicKey(text string) (PublicKey, error) {
	normalized := normalizePEM(text)
	if normalized == "" {
		return PublicKey{}, errors.New("signature: empty public key")
	}

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(normalized), ""))
		if err != nil {
			return PublicKey{}, fmt.Errorf("signature: public key is neither PEM nor base64: %w", err)
		}
		return parseDER(der)
	}

	switch block.Type {
	case pemPublicKey:
		return parsePKIX(block.Bytes)
	case pemRSAPublicKey:
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return PublicKey{}, fmt.Errorf("signature: parse rsa public key: %w", err)
		}
		return PublicKey{alg: RSA, rsa: pub}, nil
	case pemDilithium3PublicKey:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(block.Bytes); err != nil {
			return PublicKey{}, fmt.Errorf("signature: parse dilithium3 public key: %w", err)
		}
		return PublicKey{alg: Dilithium3, dilithium3: &pk}, nil
	}
	return PublicKey{}, fmt.Errorf("%w: pem type %q", ErrUnsupportedKey, block.Type)
}

func parseDER(der []byte) (PublicKey, error) {
	if k, err := parsePKIX(der); err == nil {
		return k, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return PublicKey{}, fmt.Errorf("signature: parse public key: %w", err)
	}
	return PublicKey{alg: RSA, rsa: pub}, nil
}

func parsePKIX(der []byte) (PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return PublicKey{}, fmt.Errorf("signature: parse public key: %w", err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return PublicKey{alg: RSA, rsa: k}, nil
	case ed25519.PublicKey:
		return PublicKey{alg: Ed25519, ed25519: k}, nil
	}
	return PublicKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

func normalizePEM(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// MarshalPublicKeyPEM encodes an *rsa.PublicKey, ed25519.PublicKey or
// *mode3.PublicKey the way ParsePublicKey reads it.
func MarshalPublicKeyPEM(pub any) (string, error) {
	var block *pem.Block
	switch k := pub.(type) {
	case *mode3.PublicKey:
		raw, err := k.MarshalBinary()
		if err != nil {
			return "", err
		}
		block = &pem.Block{Type: pemDilithium3PublicKey, Bytes: raw}
	case *rsa.PublicKey, ed25519.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(k)
		if err != nil {
			return "", err
		}
		block = &pem.Block{Type: pemPublicKey, Bytes: der}
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return string(pem.EncodeToMemory(block)), nil
}

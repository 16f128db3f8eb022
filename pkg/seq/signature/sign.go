package signature

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

const pemDilithium3PrivateKey = "DILITHIUM3 PRIVATE KEY"

// Sign returns a base64 signature over sha256(payload) that Verify accepts
// for the matching public key. privateKey is an *rsa.PrivateKey,
// ed25519.PrivateKey or *mode3.PrivateKey.
func Sign(privateKey any, payload []byte) (string, error) {
	digest := sha256.Sum256(payload)

	var sig []byte
	switch k := privateKey.(type) {
	case *rsa.PrivateKey:
		var err error
		if sig, err = rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:]); err != nil {
			return "", fmt.Errorf("signature: sign: %w", err)
		}
	case ed25519.PrivateKey:
		sig = ed25519.Sign(k, digest[:])
	case *mode3.PrivateKey:
		if k == nil {
			return "", errors.New("signature: missing private key")
		}
		sig = make([]byte, mode3.SignatureSize)
		mode3.SignTo(k, digest[:], sig)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, privateKey)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// ParsePrivateKey reads a PKCS#8, PKCS#1 RSA or Dilithium3 private key.
func ParsePrivateKey(text string) (any, error) {
	block, _ := pem.Decode([]byte(normalizePEM(text)))
	if block == nil {
		return nil, errors.New("signature: private key is not PEM")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signature: parse private key: %w", err)
		}
		return key, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signature: parse rsa private key: %w", err)
		}
		return key, nil
	case pemDilithium3PrivateKey:
		var sk mode3.PrivateKey
		if err := sk.UnmarshalBinary(block.Bytes); err != nil {
			return nil, fmt.Errorf("signature: parse dilithium3 private key: %w", err)
		}
		return &sk, nil
	}
	return nil, fmt.Errorf("%w: pem type %q", ErrUnsupportedKey, block.Type)
}

// GenerateKey creates a key pair for alg and returns the private key with
// the PEM text of its public half.
func GenerateKey(alg Algorithm) (any, string, error) {
	var (
		priv any
		pub  any
	)
	switch alg {
	case RSA:
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, "", err
		}
		priv, pub = k, &k.PublicKey
	case Ed25519:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, "", err
		}
		priv, pub = k, p
	case Dilithium3:
		p, k, err := mode3.GenerateKey(rand.Reader)
		if err != nil {
			return nil, "", err
		}
		priv, pub = k, p
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedKey, alg)
	}

	text, err := MarshalPublicKeyPEM(pub)
	if err != nil {
		return nil, "", err
	}
	return priv, text, nil
}

// MarshalPrivateKeyPEM is the inverse of ParsePrivateKey.
func MarshalPrivateKeyPEM(priv any) (string, error) {
	var block *pem.Block
	switch k := priv.(type) {
	case *mode3.PrivateKey:
		raw, err := k.MarshalBinary()
		if err != nil {
			return "", err
		}
		block = &pem.Block{Type: pemDilithium3PrivateKey, Bytes: raw}
	case *rsa.PrivateKey, ed25519.PrivateKey:
		der, err := x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return "", err
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, priv)
	}
	return string(pem.EncodeToMemory(block)), nil
}

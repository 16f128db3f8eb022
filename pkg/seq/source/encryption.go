package source

import (
	"fmt"
	"strings"
)

// EncodingMethod is how every field of an encrypted payload is encoded.
type EncodingMethod int

const (
	Base64 EncodingMethod = iota
)

func (m EncodingMethod) String() string {
	if m == Base64 {
		return "base64"
	}
	return fmt.Sprintf("encoding(%d)", int(m))
}

func ParseEncodingMethod(s string) (EncodingMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base64":
		return Base64, nil
	}
	return 0, fmt.Errorf("unknown encoding method %q", s)
}

// Verification names the public key and the two payload fields a signature
// check reads: the signature itself and the exact string it was made over.
type Verification struct {
	PublicKeyPEM string
	SignatureKey string
	PayloadKey   string
}

// Encryption is present when the fetched JSON object has encoded fields and,
// optionally, a signature that has to be verified before anything is decoded.
type Encryption struct {
	Method       EncodingMethod
	Verification *Verification
}

// NewEncryption returns a base64 configuration, verified when v is non-nil.
func NewEncryption(v *Verification) *Encryption {
	return &Encryption{Method: Base64, Verification: v}
}

func (e *Encryption) clone() *Encryption {
	if e == nil {
		return nil
	}
	c := *e
	if e.Verification != nil {
		v := *e.Verification
		c.Verification = &v
	}
	return &c
}

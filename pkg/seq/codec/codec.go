// Package codec turns the raw bytes a stage fetched into the typed value
// of the run. When the run is encrypted the bytes are a JSON object whose
// string fields are base64 encoded and which may carry a signature over one
// of its fields; that signature is checked before anything is decoded.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ib-77/ropseq/pkg/rop"
	"github.com/ib-77/ropseq/pkg/rop/chain"
	"github.com/ib-77/ropseq/pkg/seq/fault"
	"github.com/ib-77/ropseq/pkg/seq/signature"
	"github.com/ib-77/ropseq/pkg/seq/source"
)

// Unit verifies and decodes stage payloads. The zero value is usable: it
// verifies with a fresh key cache and logs nowhere.
type Unit struct {
	Verifier signature.Verifier
	Logger   *zap.Logger
}

func NewUnit(verifier signature.Verifier, logger *zap.Logger) Unit {
	return Unit{Verifier: verifier, Logger: logger}
}

func (u Unit) verifier() signature.Verifier {
	if u.Verifier == nil {
		return signature.NewVerifier()
	}
	return u.Verifier
}

func (u Unit) logger() *zap.Logger {
	if u.Logger == nil {
		return zap.NewNop()
	}
	return u.Logger
}

// Finish produces the stage's typed value. A forwarded value wins over raw
// and is returned as is.
func Finish[T any](ctx context.Context, u Unit, raw []byte, sc source.StageContext) rop.Result[T] {
	if sc.HasForwarded {
		return forwarded[T](sc.Forwarded)
	}
	if sc.DataFormat != source.JSON {
		return rop.Fail[T](fault.UnsupportedFormat(sc.DataFormat.String()))
	}
	if len(raw) == 0 {
		return rop.Fail[T](fault.DecodeFailed("no data to decode", nil))
	}
	if sc.Encryption == nil {
		return decode[T](raw)
	}

	enc := sc.Encryption
	c := chain.Then(chain.FromValue(ctx, raw), func(_ context.Context, b []byte) rop.Result[map[string]any] {
		return unpackObject(b)
	})
	if enc.Verification != nil {
		c = c.Step(func(_ context.Context, obj map[string]any) rop.Result[map[string]any] {
			return u.verify(obj, *enc.Verification)
		})
	}
	return chain.Then(chain.Map(c, func(_ context.Context, obj map[string]any) map[string]any {
		return u.decodeFields(enc.Method, obj)
	}), func(_ context.Context, obj map[string]any) rop.Result[T] {
		return reserialize[T](obj)
	}).Result()
}

func forwarded[T any](v any) rop.Result[T] {
	if t, ok := v.(T); ok {
		return rop.Success(t)
	}
	var zero T
	return rop.Fail[T](fault.DecodeFailed(fmt.Sprintf("forwarded value is %T, want %T", v, zero), nil))
}

func decode[T any](raw []byte) rop.Result[T] {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return rop.Fail[T](fault.DecodeFailed(err.Error(), err))
	}
	return rop.Success(out)
}

// unpackObject parses raw as a JSON object keeping numbers verbatim.
func unpackObject(raw []byte) rop.Result[map[string]any] {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return rop.Fail[map[string]any](fault.NotJSON(err))
	}
	if dec.More() {
		return rop.Fail[map[string]any](fault.NotJSON(fmt.Errorf("trailing data after JSON value")))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return rop.Fail[map[string]any](fault.NotJSON(fmt.Errorf("top level value is %T", v)))
	}
	return rop.Success(obj)
}

func (u Unit) verify(obj map[string]any, v source.Verification) rop.Result[map[string]any] {
	sig, ok := obj[v.SignatureKey].(string)
	if !ok {
		return rop.Fail[map[string]any](fault.FieldMissing(v.SignatureKey, "String"))
	}
	payload, ok := obj[v.PayloadKey].(string)
	if !ok {
		return rop.Fail[map[string]any](fault.FieldMissing(v.PayloadKey, "String"))
	}

	valid, err := u.verifier().Verify(v.PublicKeyPEM, []byte(payload), sig)
	if err != nil {
		u.logger().Error("public key rejected", zap.Error(err))
		return rop.Fail[map[string]any](fault.Fatal("invalid public key", err))
	}
	if !valid {
		return rop.Fail[map[string]any](fault.SignatureInvalid())
	}

	delete(obj, v.SignatureKey)
	return rop.Success(obj)
}

func (u Unit) decodeFields(method source.EncodingMethod, obj map[string]any) map[string]any {
	if method != source.Base64 {
		return obj
	}
	return DecodeFields(obj, func(key string, err error) {
		u.logger().Warn("field is not base64 decodable, keeping original value",
			zap.String("key", key), zap.Error(err))
	})
}

// reserialize writes obj with sorted keys and decodes it as T.
func reserialize[T any](obj map[string]any) rop.Result[T] {
	b, err := json.Marshal(obj)
	if err != nil {
		return rop.Fail[T](fault.DecodeFailed(err.Error(), err))
	}
	return decode[T](b)
}

package codec

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ib-77/ropseq/pkg/seq/fault"
	"github.com/ib-77/ropseq/pkg/seq/signature"
	"github.com/ib-77/ropseq/pkg/seq/source"
)

type message struct {
	Payload string `json:"payload"`
	Count   int    `json:"count"`
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type signer struct {
	priv any
	pem  string
}

func newSigner(t *testing.T, alg signature.Algorithm) signer {
	t.Helper()
	priv, pem, err := signature.GenerateKey(alg)
	require.NoError(t, err)
	return signer{priv: priv, pem: pem}
}

func (s signer) envelope(t *testing.T, plaintext string) map[string]any {
	t.Helper()
	payload := b64(plaintext)
	sig, err := signature.Sign(s.priv, []byte(payload))
	require.NoError(t, err)
	return map[string]any{"payload": payload, "signature": sig}
}

func (s signer) context() source.StageContext {
	return source.StageContext{
		DataFormat: source.JSON,
		Encryption: source.NewEncryption(&source.Verification{
			PublicKeyPEM: s.pem,
			SignatureKey: "signature",
			PayloadKey:   "payload",
		}),
	}
}

func TestFinish_ForwardedValueWins(t *testing.T) {
	t.Parallel()

	sc := source.StageContext{
		DataFormat:   source.XML,
		Forwarded:    message{Payload: "kept", Count: 3},
		HasForwarded: true,
	}
	res := Finish[message](context.Background(), Unit{}, nil, sc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, message{Payload: "kept", Count: 3}, res.Result())
}

func TestFinish_ForwardedWrongType(t *testing.T) {
	t.Parallel()

	sc := source.StageContext{Forwarded: 42, HasForwarded: true}
	res := Finish[message](context.Background(), Unit{}, nil, sc)
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsKind(res.Err(), fault.KindDecodeFailed))
}

func TestFinish_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	res := Finish[message](context.Background(), Unit{}, []byte(`{}`), source.StageContext{DataFormat: source.XML})
	require.True(t, res.IsFailure())

	var fe *fault.Error
	require.ErrorAs(t, res.Err(), &fe)
	assert.Equal(t, fault.KindUnsupportedFormat, fe.Kind)
	assert.Equal(t, "xml", fe.Tag)
}

func TestFinish_EmptyData(t *testing.T) {
	t.Parallel()

	res := Finish[message](context.Background(), Unit{}, nil, source.StageContext{})
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsKind(res.Err(), fault.KindDecodeFailed))
}

func TestFinish_PlainDecode(t *testing.T) {
	t.Parallel()

	res := Finish[message](context.Background(), Unit{}, []byte(`{"payload":"hi","count":2}`), source.StageContext{})
	require.True(t, res.IsSuccess())
	assert.Equal(t, message{Payload: "hi", Count: 2}, res.Result())

	res = Finish[message](context.Background(), Unit{}, []byte(`{"payload":`), source.StageContext{})
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsKind(res.Err(), fault.KindDecodeFailed))
}

func TestFinish_Base64WithoutVerification(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	u := NewUnit(nil, zap.New(core))

	raw := mustJSON(t, map[string]any{
		"payload": b64("var Jumbo = 1"),
		"count":   7,
		"note":    "not base64!",
	})
	sc := source.StageContext{DataFormat: source.JSON, Encryption: source.NewEncryption(nil)}

	res := Finish[map[string]any](context.Background(), u, raw, sc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, "var Jumbo = 1", res.Result()["payload"])
	assert.Equal(t, "not base64!", res.Result()["note"])
	assert.EqualValues(t, 7, res.Result()["count"])

	warnings := logs.FilterField(zap.String("key", "note")).All()
	assert.Len(t, warnings, 1)
}

func TestFinish_NotJSONObject(t *testing.T) {
	t.Parallel()

	sc := source.StageContext{DataFormat: source.JSON, Encryption: source.NewEncryption(nil)}
	for _, raw := range []string{`[1,2]`, `"text"`, `{"a":`, `{} {}`} {
		res := Finish[message](context.Background(), Unit{}, []byte(raw), sc)
		require.True(t, res.IsFailure(), raw)
		assert.True(t, fault.IsKind(res.Err(), fault.KindNotJSON), raw)
	}
}

func TestFinish_SortedReserialization(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"zeta":"` + b64("z") + `","alpha":"` + b64("a") + `","n":1.50}`)
	sc := source.StageContext{DataFormat: source.JSON, Encryption: source.NewEncryption(nil)}

	res := Finish[json.RawMessage](context.Background(), Unit{}, raw, sc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, `{"alpha":"a","n":1.50,"zeta":"z"}`, string(res.Result()))
}

func TestFinish_SignedPayload(t *testing.T) {
	t.Parallel()

	for _, alg := range []signature.Algorithm{signature.RSA, signature.Ed25519} {
		s := newSigner(t, alg)
		raw := mustJSON(t, s.envelope(t, "I'm Jumbo, the elephant!"))

		res := Finish[map[string]any](context.Background(), Unit{}, raw, s.context())
		require.True(t, res.IsSuccess(), "%s: %v", alg, res.Err())
		assert.Equal(t, "I'm Jumbo, the elephant!", res.Result()["payload"])
		assert.NotContains(t, res.Result(), "signature")
	}
}

func TestFinish_Deterministic(t *testing.T) {
	t.Parallel()

	s := newSigner(t, signature.Ed25519)
	env := s.envelope(t, "same")
	env["extra"] = b64("x")
	raw := mustJSON(t, env)

	first := Finish[json.RawMessage](context.Background(), Unit{}, raw, s.context())
	second := Finish[json.RawMessage](context.Background(), Unit{}, raw, s.context())
	require.True(t, first.IsSuccess())
	assert.Equal(t, first.Result(), second.Result())
}

func TestFinish_MissingFields(t *testing.T) {
	t.Parallel()

	s := newSigner(t, signature.Ed25519)
	cases := map[string]map[string]any{
		"signature": {"payload": b64("x")},
		"payload":   {"signature": "AAAA"},
	}
	for missing, obj := range cases {
		res := Finish[message](context.Background(), Unit{}, mustJSON(t, obj), s.context())
		require.True(t, res.IsFailure())

		var fe *fault.Error
		require.ErrorAs(t, res.Err(), &fe)
		assert.Equal(t, fault.KindFieldMissing, fe.Kind)
		assert.Equal(t, missing, fe.Key)
		assert.Equal(t, "String", fe.Expected)
	}

	env := s.envelope(t, "x")
	env["signature"] = 12
	res := Finish[message](context.Background(), Unit{}, mustJSON(t, env), s.context())
	assert.True(t, fault.IsKind(res.Err(), fault.KindFieldMissing))
}

func TestFinish_MutationRejects(t *testing.T) {
	t.Parallel()

	s := newSigner(t, signature.Ed25519)
	other := newSigner(t, signature.Ed25519)

	tampered := s.envelope(t, "original")
	tampered["payload"] = b64("originaL")

	wrongKey := s.context()
	wrongKey.Encryption.Verification.PublicKeyPEM = other.pem

	// 64 bytes encode as 86 characters plus "=="; the last character before
	// the padding carries 4 unused bits.
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	trailing := s.envelope(t, "original")
	sig := trailing["signature"].(string)
	last := len(sig) - 3
	flipped := alphabet[strings.IndexByte(alphabet, sig[last])^1]
	trailing["signature"] = sig[:last] + string(flipped) + sig[last+1:]

	cases := map[string]struct {
		obj map[string]any
		sc  source.StageContext
	}{
		"payload":            {tampered, s.context()},
		"key":                {s.envelope(t, "original"), wrongKey},
		"signature trailing": {trailing, s.context()},
	}
	for name, tc := range cases {
		res := Finish[message](context.Background(), Unit{}, mustJSON(t, tc.obj), tc.sc)
		require.True(t, res.IsFailure(), name)
		assert.True(t, fault.IsKind(res.Err(), fault.KindSignatureInvalid), name)
		assert.Equal(t, message{}, res.Result(), name)
	}
}

func TestFinish_BadPublicKeyIsFatal(t *testing.T) {
	t.Parallel()

	s := newSigner(t, signature.Ed25519)
	sc := s.context()
	sc.Encryption.Verification.PublicKeyPEM = "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----"

	res := Finish[message](context.Background(), Unit{}, mustJSON(t, s.envelope(t, "x")), sc)
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsFatal(res.Err()))
}

func TestFields_RoundTrip(t *testing.T) {
	t.Parallel()

	original := map[string]any{
		"ascii":   "hello world",
		"unicode": "héllo, 世界",
		"empty":   "",
		"number":  json.Number("12"),
		"flag":    true,
	}
	var skipped []string
	decoded := DecodeFields(EncodeFields(original), func(key string, _ error) {
		skipped = append(skipped, key)
	})
	assert.Equal(t, original, decoded)
	assert.Empty(t, skipped)
}

func TestDecodeFields_InvalidUTF8Kept(t *testing.T) {
	t.Parallel()

	bad := base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe})
	var skipped []string
	out := DecodeFields(map[string]any{"k": bad}, func(key string, _ error) {
		skipped = append(skipped, key)
	})
	assert.Equal(t, bad, out["k"])
	assert.Equal(t, []string{"k"}, skipped)
}

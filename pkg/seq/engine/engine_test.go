package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ib-77/ropseq/pkg/rop"
	"github.com/ib-77/ropseq/pkg/seq/fault"
	"github.com/ib-77/ropseq/pkg/seq/route"
	"github.com/ib-77/ropseq/pkg/seq/signature"
	"github.com/ib-77/ropseq/pkg/seq/source"
	"github.com/ib-77/ropseq/pkg/seq/store"
	"github.com/ib-77/ropseq/pkg/seq/store/localfs"
	"github.com/ib-77/ropseq/pkg/seq/store/sqlstore"
	"github.com/ib-77/ropseq/pkg/seq/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type envelope struct {
	Payload string `json:"payload"`
}

type countingStore struct {
	calls atomic.Int32
}

func (c *countingStore) Fetch(context.Context, string, string) ([]byte, error) {
	c.calls.Add(1)
	return nil, store.ErrNotFound
}

func (c *countingStore) Store(context.Context, string, string, []byte) error {
	c.calls.Add(1)
	return nil
}

func (c *countingStore) Delete(context.Context, string, string) error {
	c.calls.Add(1)
	return nil
}

type silent struct{}

func (silent) Send(context.Context, transport.Request, func(transport.Reply)) {}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(opts...)
	t.Cleanup(func() {
		require.NoError(t, e.Close(context.Background()))
	})
	return e
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runSeq[T any](t *testing.T, e *Engine, cfg source.RunConfig) rop.Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res := Run[T](ctx, e, cfg)
	require.False(t, res.IsCancel(), "run did not complete")
	return res
}

type recorder struct {
	mu   sync.Mutex
	seen []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, t)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []State{}
	for i, t := range r.seen {
		if i == 0 {
			out = append(out, t.From)
		}
		out = append(out, t.To)
	}
	return out
}

func TestExecute_SingleStage(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"name":"alice","age":30}`)
	rec := &recorder{}
	e := newEngine(t, WithObserver(rec.observe))

	res := runSeq[profile](t, e, source.NewRemoteRead(srv.URL))
	require.True(t, res.IsSuccess(), res.Err())
	assert.Equal(t, profile{Name: "alice", Age: 30}, res.Result())
	assert.Equal(t, []State{Pending, FirstRunning, Completed}, rec.states())
}

func TestExecute_HTTPNotFound(t *testing.T) {
	srv := serve(t, http.StatusNotFound, ``)
	e := newEngine(t)

	res := runSeq[profile](t, e, source.NewRemoteRead(srv.URL))
	require.True(t, res.IsFailure())

	var fe *fault.Error
	require.ErrorAs(t, res.Err(), &fe)
	assert.Equal(t, fault.KindHTTPStatus, fe.Kind)
	assert.Equal(t, 404, fe.Code)
	assert.Equal(t, "Not Found", fe.Reason)
	assert.Equal(t, "code: 404 info: Not Found", fault.Describe(res.Err()))
}

func TestExecute_SignedPayload(t *testing.T) {
	priv, pubPEM, err := signature.GenerateKey(signature.RSA)
	require.NoError(t, err)
	_, otherPEM, err := signature.GenerateKey(signature.RSA)
	require.NoError(t, err)

	plaintext := `var Jumbo = {message: function() {return "I'm Jumbo, the elephant!"}}`
	payload := base64.StdEncoding.EncodeToString([]byte(plaintext))
	sig, err := signature.Sign(priv, []byte(payload))
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"payload": payload, "signature": sig})
	require.NoError(t, err)

	srv := serve(t, http.StatusOK, string(body))
	e := newEngine(t)

	withKey := func(pem string) source.RunConfig {
		return source.NewRemoteRead(srv.URL, source.WithEncryption(source.NewEncryption(&source.Verification{
			PublicKeyPEM: pem,
			SignatureKey: "signature",
			PayloadKey:   "payload",
		})))
	}

	res := runSeq[envelope](t, e, withKey(pubPEM))
	require.True(t, res.IsSuccess(), res.Err())
	assert.Equal(t, plaintext, res.Result().Payload)

	res = runSeq[envelope](t, e, withKey(otherPEM))
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsKind(res.Err(), fault.KindSignatureInvalid))

	undecoded := runSeq[envelope](t, e, source.NewRemoteRead(srv.URL))
	require.True(t, undecoded.IsSuccess())
	assert.Equal(t, payload, undecoded.Result().Payload)
}

func TestExecute_FirstFailureSkipsSecondStage(t *testing.T) {
	srv := serve(t, http.StatusInternalServerError, ``)
	file := &countingStore{}
	rec := &recorder{}
	e := newEngine(t, WithStore(source.File, file), WithObserver(rec.observe))

	cfg := source.NewSequence(source.NewRemote(srv.URL, nil), source.NewStore(source.File, "profiles", "1"))
	res := runSeq[profile](t, e, cfg)
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsKind(res.Err(), fault.KindHTTPStatus))
	assert.Zero(t, file.calls.Load())
	assert.Equal(t, []State{Pending, FirstRunning, Completed}, rec.states())
}

func TestExecute_SecondStageUnimplementedStore(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"name":"bob","age":41}`)
	file := &countingStore{}
	rec := &recorder{}
	e := newEngine(t, WithStore(source.File, file), WithObserver(rec.observe))

	cfg := source.NewSequence(source.NewRemote(srv.URL, nil), source.NewStore(source.Keychain, "profiles", "1"))
	res := runSeq[profile](t, e, cfg)
	require.True(t, res.IsFailure())

	var fe *fault.Error
	require.ErrorAs(t, res.Err(), &fe)
	assert.Equal(t, fault.KindStoreKindUnimplemented, fe.Kind)
	assert.Equal(t, "keychain", fe.Store)
	assert.Zero(t, file.calls.Load())
	assert.Equal(t, []State{Pending, FirstRunning, SecondRunning, Completed}, rec.states())
}

func TestExecute_FetchThenPersist(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"name":"carol","age":25}`)
	ctx := context.Background()

	fs, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	db, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer db.Close()

	e := newEngine(t, WithStore(source.File, fs), WithStore(source.Database, db))

	for _, s := range []struct {
		kind  source.Kind
		store store.Store
	}{{source.File, fs}, {source.Database, db}} {
		cfg := source.NewSequence(source.NewRemote(srv.URL, nil), source.NewStore(s.kind, "profiles", "carol"))
		res := runSeq[profile](t, e, cfg)
		require.True(t, res.IsSuccess(), "%v: %v", s.kind, res.Err())
		assert.Equal(t, profile{Name: "carol", Age: 25}, res.Result())

		b, err := s.store.Fetch(ctx, "profiles", "carol")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"carol","age":25}`, string(b))

		back := runSeq[profile](t, e, source.NewSingle(source.NewStore(s.kind, "profiles", "carol")))
		require.True(t, back.IsSuccess(), back.Err())
		assert.Equal(t, profile{Name: "carol", Age: 25}, back.Result())
	}
}

func TestExecute_SecondStageWritesWithPut(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		body   []byte
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()
	src := serve(t, http.StatusOK, `{"name":"dave","age":52}`)
	e := newEngine(t)

	cfg := source.NewSequence(source.NewRemote(src.URL, nil), source.NewRemote(sink.URL+"/profiles/{id}", map[string]string{"id": "dave"}))
	res := runSeq[profile](t, e, cfg)
	require.True(t, res.IsSuccess(), res.Err())
	assert.Equal(t, profile{Name: "dave", Age: 52}, res.Result())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.JSONEq(t, `{"name":"dave","age":52}`, string(body))
}

func TestExecute_InvalidConfigIsFatal(t *testing.T) {
	var sent atomic.Int32
	e := newEngine(t, WithTransport(transport.Func(func(context.Context, transport.Request) transport.Reply {
		sent.Add(1)
		return transport.Reply{Status: 200}
	})))

	res := runSeq[profile](t, e, source.NewSingle(source.NewStore(source.File, "profiles", "")))
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsFatal(res.Err()))
	assert.Zero(t, sent.Load())
}

func TestExecute_BlankAddressIsInvalidAddress(t *testing.T) {
	var sent atomic.Int32
	e := newEngine(t, WithTransport(transport.Func(func(context.Context, transport.Request) transport.Reply {
		sent.Add(1)
		return transport.Reply{Status: 200}
	})))

	for _, addr := range []string{"", "   ", "not a url"} {
		res := runSeq[profile](t, e, source.NewRemoteRead(addr))
		require.True(t, res.IsFailure(), "address %q", addr)
		assert.Equal(t, fault.KindInvalidAddress, fault.KindOf(res.Err()), "address %q", addr)
	}
	assert.Zero(t, sent.Load())
}

func TestExecute_AfterClose(t *testing.T) {
	e := New()
	require.NoError(t, e.Close(context.Background()))

	res := runSeq[profile](t, e, source.NewRemoteRead("https://example.com"))
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsFatal(res.Err()))
	assert.Equal(t, "engine closed", res.Err().Error())
}

func TestExecute_CompletionsRunOneAtATime(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"name":"eve","age":1}`)
	e := newEngine(t, WithLaneWidths(route.Widths{source.Remote: 8}))

	var (
		active, overlaps atomic.Int32
		wg               sync.WaitGroup
	)
	for range 40 {
		wg.Add(1)
		Execute(e, source.NewRemoteRead(srv.URL), func(res rop.Result[profile]) {
			defer wg.Done()
			if active.Add(1) > 1 {
				overlaps.Add(1)
			}
			assert.True(t, res.IsSuccess())
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	wg.Wait()
	assert.Zero(t, overlaps.Load())
}

func TestExecute_ExecuteReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	e := newEngine(t, WithTransport(transport.Func(func(context.Context, transport.Request) transport.Reply {
		<-release
		return transport.Reply{Status: 200, Body: []byte(`{"name":"f","age":2}`)}
	})))

	start := time.Now()
	out := ExecuteChan[profile](e, source.NewRemoteRead("https://example.com"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	res := <-out
	require.True(t, res.IsSuccess(), res.Err())
	_, open := <-out
	assert.False(t, open)
}

func TestClose_DeadlineAbandonsQueuedRuns(t *testing.T) {
	e := New(WithTransport(silent{}), WithLaneWidths(route.Widths{source.Remote: 1}))

	results := make(chan rop.Result[profile], 5)
	for range 5 {
		Execute(e, source.NewRemoteRead("https://example.com"), func(res rop.Result[profile]) {
			results <- res
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, e.Close(ctx))

	require.Len(t, results, 5)
	close(results)
	for res := range results {
		require.True(t, res.IsFailure())
		kind := fault.KindOf(res.Err())
		assert.Contains(t, []fault.Kind{fault.KindTransportFailed, fault.KindFatal}, kind)
	}
}

func TestRun_ContextEndsFirst(t *testing.T) {
	release := make(chan struct{})
	e := newEngine(t, WithTransport(transport.Func(func(context.Context, transport.Request) transport.Reply {
		<-release
		return transport.Reply{Err: context.Canceled}
	})))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := Run[profile](ctx, e, source.NewRemoteRead("https://example.com"))
	assert.True(t, res.IsCancel())
	assert.ErrorIs(t, res.Err(), context.DeadlineExceeded)
}

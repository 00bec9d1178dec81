package kv

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	op  string
	err error
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) RecordKVOperation(operation string, _ time.Duration, err error) {
	f.calls = append(f.calls, recordedCall{op: operation, err: err})
}

func openTestStore(t *testing.T, cfs ...string) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir, cfs, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSentinelFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir, []string{"default"}, Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, IsDatabaseDir(dir))
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := openTestStore(t, "default")

	require.NoError(t, s.Put("default", []byte("a"), []byte("1")))
	v, err := s.Get("default", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t, "default")

	_, err := s.Get("default", []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_UnopenedColumnFamily(t *testing.T) {
	s := openTestStore(t, "default")

	_, err := s.Get("nope", []byte("a"))
	assert.ErrorIs(t, err, ErrColumnFamilyNotOpen)
}

func TestCheckAndPut_RejectsDuplicate(t *testing.T) {
	s := openTestStore(t, "default")

	require.NoError(t, s.CheckAndPut("default", []byte("k"), []byte("v1")))
	err := s.CheckAndPut("default", []byte("k"), []byte("v2"))
	assert.ErrorIs(t, err, ErrKeyExists)

	v, err := s.Get("default", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestIterateFrom_ForwardPrefix(t *testing.T) {
	s := openTestStore(t, "default")

	keys := []string{"shop.v1.Item:a", "shop.v1.Item:b", "shop.v1.Itemized:a", "other:a"}
	for _, k := range keys {
		require.NoError(t, s.Put("default", []byte(k), []byte(k)))
	}

	rows, err := s.IterateFrom("default", []byte("shop.v1.Item"), Forward)
	require.NoError(t, err)

	var got []string
	for _, r := range rows {
		got = append(got, string(r.Key))
	}
	// IterateFrom yields everything from the seek point onward in order;
	// callers (dbengine.List) apply the full-token prefix stop themselves.
	assert.Equal(t, []string{"shop.v1.Item:a", "shop.v1.Item:b", "shop.v1.Itemized:a"}, got)
}

func TestIterateFrom_Reverse(t *testing.T) {
	s := openTestStore(t, "default")
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put("default", []byte(k), []byte(k)))
	}

	rows, err := s.IterateFrom("default", nil, Reverse)
	require.NoError(t, err)

	var got []string
	for _, r := range rows {
		got = append(got, string(r.Key))
	}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestRecorder_ObservesEachOperation(t *testing.T) {
	rec := &fakeRecorder{}
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir, []string{"default"}, Options{Recorder: rec})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("default", []byte("a"), []byte("1")))
	_, err = s.Get("default", []byte("a"))
	require.NoError(t, err)
	_, err = s.Get("default", []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.CheckAndPut("default", []byte("b"), []byte("2")))
	_, err = s.IterateFrom("default", nil, Forward)
	require.NoError(t, err)

	var ops []string
	for _, c := range rec.calls {
		ops = append(ops, c.op)
	}
	assert.Equal(t, []string{"put", "get", "get", "check_and_put", "iterate"}, ops)
	assert.ErrorIs(t, rec.calls[2].err, ErrNotFound)
}

func TestDestroy_RemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir, []string{"default"}, Options{})
	require.NoError(t, err)

	require.NoError(t, s.Destroy())
	assert.NoDirExists(t, dir)
}

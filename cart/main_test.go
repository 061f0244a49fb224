package cart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carts/c-1", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		w.Write([]byte(`{"lines":[{"seller_id":"a","amount":6000},{"seller_id":"b","amount":4000}]}`))
	}))
	defer srv.Close()

	snapshot, err := NewClient(srv.URL, "tkn", time.Second).Snapshot(context.Background(), "c-1", 7, 10000)
	require.NoError(t, err)
	assert.Equal(t, "c-1", snapshot.CartRef)
	assert.Len(t, snapshot.Lines, 2)
	assert.Equal(t, int64(10000), snapshot.Total())
}

func TestClientSnapshotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Snapshot(context.Background(), "missing", 7, 10000)
	assert.True(t, errors.Is(err, ErrCartNotFound))
}

func TestSingleLine(t *testing.T) {
	snapshot, err := SingleLine{}.Snapshot(context.Background(), "c-1", 7, 2500)
	require.NoError(t, err)
	require.Len(t, snapshot.Lines, 1)
	assert.Equal(t, int64(2500), snapshot.Total())
}

package lockhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Handler, *inmem.Store) {
	t.Helper()

	store := inmem.New()
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	factory := lock.NewFactory(store)
	t.Cleanup(factory.Close)

	h, err := New(store, factory)
	require.NoError(t, err)
	h.now = func() time.Time { return now }
	return h, store
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetLock(t *testing.T) {
	ctx := context.Background()
	h, store := setup(t)

	expires := now.Add(time.Minute)
	require.NoError(t, store.Insert(ctx, lock.Document{
		Name:        "engine-1",
		WriterQueue: []lock.Entry{{ID: "w1", HostID: "a"}},
		ReaderSet:   []lock.Entry{{ID: "r1", HostID: "a", Granted: true, ExpiresAt: &expires}},
	}))

	rec := serve(h, http.MethodGet, "/locks/engine-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var view LockView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "engine-1", view.Name)
	assert.Equal(t, int64(1), view.Revision)
	require.Len(t, view.Writers, 1)
	assert.False(t, view.Writers[0].Granted)
	require.Len(t, view.Readers, 1)
	assert.True(t, view.Readers[0].Granted)
	assert.False(t, view.Readers[0].Expired)
	assert.False(t, view.AvailableForReading)
	assert.False(t, view.AvailableForWriting)
}

func TestGetLockNotFound(t *testing.T) {
	h, _ := setup(t)

	rec := serve(h, http.MethodGet, "/locks/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var status errors.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, errors.CodeNotFound, status.Code)
}

func TestGetAvailability(t *testing.T) {
	ctx := context.Background()
	h, store := setup(t)

	expired := now.Add(-time.Second)
	require.NoError(t, store.Insert(ctx, lock.Document{
		Name:      "engine-1",
		ReaderSet: []lock.Entry{{ID: "r1", Granted: true, ExpiresAt: &expired}},
	}))

	tests := []struct {
		query string
		code  int
		want  bool
	}{
		{"", http.StatusOK, true},
		{"?mode=read", http.StatusOK, true},
		{"?mode=write", http.StatusOK, true},
		{"?mode=exclusive", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := serve(h, http.MethodGet, "/locks/engine-1/availability"+tt.query)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				var body struct {
					Code   errors.Code            `json:"code"`
					Detail map[string][]lock.Mode `json:"detail"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, errors.CodeInvalidArgument, body.Code)
				assert.Equal(t, []lock.Mode{lock.ModeRead, lock.ModeWrite}, body.Detail["modes"])
				return
			}
			var view AvailabilityView
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
			assert.Equal(t, tt.want, view.Available)
		})
	}
}

func TestDeleteLock(t *testing.T) {
	ctx := context.Background()
	h, store := setup(t)
	require.NoError(t, store.Insert(ctx, lock.Document{Name: "engine-1"}))

	rec := serve(h, http.MethodDelete, "/locks/engine-1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := store.Get(ctx, "engine-1")
	assert.True(t, errors.IsNotFound(err))

	rec = serve(h, http.MethodDelete, "/locks/engine-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAPI(t *testing.T) {
	h, _ := setup(t)

	rec := serve(h, http.MethodGet, "/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Contains(t, doc.Paths, "/locks/{name}")
	assert.Contains(t, doc.Paths["/locks/{name}"], "get")
	assert.Contains(t, doc.Paths["/locks/{name}"], "delete")
	assert.Contains(t, doc.Paths, "/locks/{name}/availability")

	rec = serve(h, http.MethodGet, "/openapi.yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "paths")
}

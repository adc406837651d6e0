package api_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/helixml/folio/infrastructure/api"
	"github.com/helixml/folio/infrastructure/library"
	"github.com/helixml/folio/infrastructure/source"
	"github.com/helixml/folio/internal/testpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLibrary(t *testing.T) *library.Library {
	t.Helper()
	dir := t.TempDir()
	testpdf.Write(t, dir, "atlas"+library.Extension, 12)
	lib, err := library.New(dir, 2)
	require.NoError(t, err)
	return lib
}

func TestAPIServer_Routes(t *testing.T) {
	handler := api.NewAPIServer(newLibrary(t), nil).Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/api/v1/documents", http.StatusOK},
		{"/api/v1/documents/atlas", http.StatusOK},
		{"/api/v1/documents/atlas/content", http.StatusOK},
		{"/api/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAPIServer_ServeAndShutdown(t *testing.T) {
	srv := api.NewAPIServer(newLibrary(t), nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	src := source.NewHTTP("http://" + l.Addr().String())
	require.Eventually(t, func() bool {
		n, err := src.PageCount(context.Background(), "atlas")
		return err == nil && n == 12
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.False(t, errors.Is(err, http.ErrServerClosed))
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

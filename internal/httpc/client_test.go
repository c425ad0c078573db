package httpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/face.onnx" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("onnx-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "face.onnx")

	err := Download(context.Background(), srv.Client(), srv.URL+"/models/face.onnx", dst)
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))
}

func TestDownload_NotFoundLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "missing.onnx")

	err := Download(context.Background(), srv.Client(), srv.URL+"/missing.onnx", dst)
	require.Error(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Download(ctx, srv.Client(), srv.URL, filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}

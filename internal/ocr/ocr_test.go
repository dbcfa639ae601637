package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtractDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"04 Dec 2025", day(2025, 12, 4), true},
		{"The date is 4 dec 2025.", day(2025, 12, 4), true},
		{"6 December 2025", day(2025, 12, 6), true},
		{"04/12/2025", day(2025, 12, 4), true},
		{"12/25/2025", day(2025, 12, 25), true},
		{"2025-12-04", day(2025, 12, 4), true},
		{"NO DATE", time.Time{}, false},
		{"no date visible", time.Time{}, false},
		{"", time.Time{}, false},
		{"meter 12345", time.Time{}, false},
		{"31/31/2025", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := ExtractDate(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.True(t, tc.want.Equal(got), "%q: got %v", tc.in, got)
	}
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	path := filepath.Join(t.TempDir(), "100_old.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestDownscaleKeepsAspect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	out := Downscale(src, 100)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())
	assert.Same(t, src, Downscale(src, 0).(*image.RGBA))
}

func TestLoadJPEGShrinks(t *testing.T) {
	path := writePNG(t, 300, 150)
	data, err := LoadJPEG(path, 60)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestReadDateSendsImage(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" 04 Dec 2025 "}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Model: "llava:7b", MaxImagePx: 64}, srv.Client(), nil)
	answer, err := c.ReadDate(context.Background(), writePNG(t, 128, 128))
	require.NoError(t, err)
	assert.Equal(t, "04 Dec 2025", answer)

	assert.Equal(t, "llava:7b", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, Prompt, got.Messages[0].Content)
	require.Len(t, got.Messages[0].Images, 1)
	raw, err := base64.StdEncoding.DecodeString(got.Messages[0].Images[0])
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
}

func TestReadDateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "llava:7b"}, srv.Client(), nil)
	_, err := c.ReadDate(context.Background(), writePNG(t, 8, 8))
	assert.ErrorContains(t, err, "500")
}

func TestReadDateMissingFile(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Model: "llava:7b"}, nil, nil)
	_, err := c.ReadDate(context.Background(), filepath.Join(t.TempDir(), "none.png"))
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llava:13b"},{"name":"moondream:latest"}]}`))
	}))
	defer srv.Close()

	assert.NoError(t, New(Config{BaseURL: srv.URL, Model: "llava:7b"}, srv.Client(), nil).Ping(context.Background()))
	assert.NoError(t, New(Config{BaseURL: srv.URL, Model: "moondream"}, srv.Client(), nil).Ping(context.Background()))
	err := New(Config{BaseURL: srv.URL, Model: "bakllava"}, srv.Client(), nil).Ping(context.Background())
	assert.ErrorIs(t, err, ErrModelMissing)
}

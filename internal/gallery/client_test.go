package gallery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
)

func TestUploadImageWithThumbnail(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))

		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		require.Equal(t, "abc.webp", files[0].Filename)
		require.Equal(t, "image/webp", files[0].Header.Get("Content-Type"))
		require.Equal(t, "thumb_abc.webp", files[1].Filename)

		first, err := files[0].Open()
		require.NoError(t, err)
		defer first.Close()
		data, err := io.ReadAll(first)
		require.NoError(t, err)
		require.Equal(t, []byte("full-bytes"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"src":"/i/abc.webp"},{"src":"/i/thumb_abc.webp"}]`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.Client(), Config{BaseURL: srv.URL, AuthToken: "sesame"}, zap.NewNop())
	require.NoError(t, err)

	result, err := client.Upload(context.Background(), harvest.UploadItem{
		Filename: "abc.webp",
		MimeType: "image/webp",
		Data:     []byte("full-bytes"),
		Thumb:    []byte("thumb-bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/i/abc.webp", result.URL)
	require.Equal(t, srv.URL+"/i/thumb_abc.webp", result.ThumbnailURL)
	require.Equal(t, "Bearer sesame", gotAuth)
}

func TestUploadVideoWithoutThumbnail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Len(t, r.MultipartForm.File["files"], 1)
		_, _ = w.Write([]byte(`[{"src":"https://cdn.example.com/v/clip.mp4"}]`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.Client(), Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	result, err := client.Upload(context.Background(), harvest.UploadItem{
		Filename: "clip.mp4",
		MimeType: "video/mp4",
		Data:     []byte("mp4-bytes"),
	})
	require.NoError(t, err)
	// Absolute sources are taken as-is.
	require.Equal(t, "https://cdn.example.com/v/clip.mp4", result.URL)
	require.Empty(t, result.ThumbnailURL)
}

func TestUploadServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "storage backend unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.Client(), Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Upload(context.Background(), harvest.UploadItem{
		Filename: "abc.webp",
		MimeType: "image/webp",
		Data:     []byte("full-bytes"),
	})
	require.ErrorIs(t, err, harvest.ErrTransientFetch)
	require.Contains(t, err.Error(), "503")
}

func TestUploadMalformedResponseIsRetryable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway error</html>"},
		{"empty array", "[]"},
		{"empty src", `[{"src":""}]`},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.Client(), Config{BaseURL: srv.URL}, zap.NewNop())
			require.NoError(t, err)

			_, err = client.Upload(context.Background(), harvest.UploadItem{
				Filename: "abc.webp",
				MimeType: "image/webp",
				Data:     []byte("full-bytes"),
			})
			require.ErrorIs(t, err, harvest.ErrTransientFetch)
		})
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestUploadRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	client, err := NewClient(nil, Config{BaseURL: "https://gallery.example.com"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Upload(context.Background(), harvest.UploadItem{Filename: "abc.webp"})
	require.Error(t, err)
	require.NotErrorIs(t, err, harvest.ErrTransientFetch)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
)

type fakeGallery struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	uploads     []harvest.UploadItem
	delay       time.Duration
	failWhen    func(item harvest.UploadItem) error
}

func (g *fakeGallery) Upload(_ context.Context, item harvest.UploadItem) (harvest.GalleryResult, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	delay := g.delay
	g.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	g.inFlight--
	if g.failWhen != nil {
		if err := g.failWhen(item); err != nil {
			g.mu.Unlock()
			return harvest.GalleryResult{}, err
		}
	}
	g.uploads = append(g.uploads, item)
	g.mu.Unlock()
	return harvest.GalleryResult{
		URL:          "https://gallery.example.com/" + item.Filename,
		ThumbnailURL: "https://gallery.example.com/thumb/" + item.Filename,
	}, nil
}

type fakeMediaStore struct {
	mu        sync.Mutex
	inserted  [][]harvest.MediaRecord
	insertErr error
}

func (s *fakeMediaStore) ExistingMediaURLs(context.Context, []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *fakeMediaStore) InsertMedia(_ context.Context, records []harvest.MediaRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserted = append(s.inserted, records)
	return len(records), nil
}

type fakeBlobStore struct {
	mu     sync.Mutex
	paths  []string
	putErr error
}

func (s *fakeBlobStore) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.paths = append(s.paths, path)
	return "gs://bucket/" + path, nil
}

// mediaServer serves distinct video payloads keyed by path.
func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = fmt.Fprintf(w, "payload-%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func videoDescriptors(baseURL string, n int) []harvest.MediaDescriptor {
	descriptors := make([]harvest.MediaDescriptor, 0, n)
	for i := 0; i < n; i++ {
		descriptors = append(descriptors, harvest.MediaDescriptor{
			OriginURL: fmt.Sprintf("%s/video-%d", baseURL, i),
			Kind:      harvest.MediaVideo,
			PostURL:   "https://m.weibo.cn/detail/1",
		})
	}
	return descriptors
}

func newTestPipeline(srv *httptest.Server, gallery harvest.Gallery, media harvest.MediaStore, archive harvest.BlobStore, cfg Config) *Pipeline {
	downloader := NewDownloader(srv.Client(), DownloaderConfig{}, zap.NewNop())
	transcoder := NewTranscoder(TranscoderConfig{})
	return New(downloader, transcoder, gallery, media, archive, cfg, zap.NewNop())
}

func TestIngestBoundedConcurrency(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	gallery := &fakeGallery{delay: 20 * time.Millisecond}
	media := &fakeMediaStore{}
	p := newTestPipeline(srv, gallery, media, nil, Config{Concurrency: 3})

	post := harvest.Post{ID: "post-1", UserID: "u1"}
	result, err := p.Ingest(context.Background(), post, videoDescriptors(srv.URL, 12))
	require.NoError(t, err)
	require.Len(t, result.Records, 12)
	require.Zero(t, result.Failed)
	require.LessOrEqual(t, gallery.maxInFlight, 3)
}

func TestIngestContainsItemFailures(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	var failedItem string
	gallery := &fakeGallery{failWhen: func(item harvest.UploadItem) error {
		if string(item.Data) == "payload-/video-1" {
			failedItem = item.Filename
			return errors.New("upstream 503")
		}
		return nil
	}}
	media := &fakeMediaStore{}
	p := newTestPipeline(srv, gallery, media, nil, Config{Concurrency: 2, UploadRetries: 1, UploadBackoff: time.Millisecond})

	post := harvest.Post{ID: "post-1", UserID: "u1"}
	result, err := p.Ingest(context.Background(), post, videoDescriptors(srv.URL, 3))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	require.Equal(t, 1, result.Failed)
	require.NotEmpty(t, failedItem)

	media.mu.Lock()
	defer media.mu.Unlock()
	require.Len(t, media.inserted, 1)
	require.Len(t, media.inserted[0], 2)
}

func TestIngestRetriesUploads(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	attempts := 0
	gallery := &fakeGallery{failWhen: func(harvest.UploadItem) error {
		attempts++
		if attempts == 1 {
			return errors.New("flaky upstream")
		}
		return nil
	}}
	media := &fakeMediaStore{}
	p := newTestPipeline(srv, gallery, media, nil, Config{Concurrency: 1, UploadRetries: 2, UploadBackoff: time.Millisecond})

	result, err := p.Ingest(context.Background(), harvest.Post{ID: "post-1"}, videoDescriptors(srv.URL, 1))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, 2, attempts)
}

func TestIngestRecordsCarryPostFields(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	gallery := &fakeGallery{}
	media := &fakeMediaStore{}
	p := newTestPipeline(srv, gallery, media, nil, Config{Concurrency: 1})

	post := harvest.Post{ID: "post-9", UserID: "user-7"}
	result, err := p.Ingest(context.Background(), post, videoDescriptors(srv.URL, 1))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	record := result.Records[0]
	require.Equal(t, "post-9", record.PostID)
	require.Equal(t, "user-7", record.UserID)
	require.Equal(t, srv.URL+"/video-0", record.OriginURL)
	require.Contains(t, record.GalleryURL, "https://gallery.example.com/")
	require.Contains(t, record.ThumbnailURL, "https://gallery.example.com/thumb/")
}

func TestIngestArchivesRawBytes(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	gallery := &fakeGallery{}
	media := &fakeMediaStore{}
	archive := &fakeBlobStore{}
	p := newTestPipeline(srv, gallery, media, archive, Config{Concurrency: 1})

	_, err := p.Ingest(context.Background(), harvest.Post{ID: "post-1"}, videoDescriptors(srv.URL, 2))
	require.NoError(t, err)

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.paths, 2)
	for _, path := range archive.paths {
		require.Contains(t, path, "media/")
		require.Contains(t, path, ".mp4")
	}
}

func TestIngestSurvivesArchiveFailure(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	gallery := &fakeGallery{}
	media := &fakeMediaStore{}
	archive := &fakeBlobStore{putErr: errors.New("bucket gone")}
	p := newTestPipeline(srv, gallery, media, archive, Config{Concurrency: 1})

	result, err := p.Ingest(context.Background(), harvest.Post{ID: "post-1"}, videoDescriptors(srv.URL, 1))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
}

func TestIngestSurfacesPersistFailure(t *testing.T) {
	t.Parallel()

	srv := mediaServer(t)
	gallery := &fakeGallery{}
	media := &fakeMediaStore{insertErr: errors.New("deadlock detected")}
	p := newTestPipeline(srv, gallery, media, nil, Config{Concurrency: 1})

	_, err := p.Ingest(context.Background(), harvest.Post{ID: "post-1"}, videoDescriptors(srv.URL, 1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist media")
}

func TestIngestEmptyDescriptors(t *testing.T) {
	t.Parallel()

	p := New(nil, nil, nil, nil, nil, Config{}, zap.NewNop())
	result, err := p.Ingest(context.Background(), harvest.Post{ID: "post-1"}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Records)
	require.Zero(t, result.Failed)
}

package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
)

type fakePostStore struct {
	mu    sync.Mutex
	seen  map[string]harvest.Post
	calls int
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{seen: make(map[string]harvest.Post)}
}

func (f *fakePostStore) UpsertPost(_ context.Context, post harvest.Post) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := post.Platform + "/" + post.PlatformID
	_, exists := f.seen[key]
	f.seen[key] = post
	return !exists, nil
}

func (f *fakePostStore) UpdatePostStatus(context.Context, string, harvest.PostStatus) error {
	return nil
}

func (f *fakePostStore) NextPendingPost(context.Context, []harvest.ProducerKind) (*harvest.Post, error) {
	return nil, nil
}

type fakeMediaStore struct {
	existing map[string]struct{}
	queries  int
	err      error
}

func (f *fakeMediaStore) ExistingMediaURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := f.existing[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeMediaStore) InsertMedia(context.Context, []harvest.MediaRecord) (int, error) {
	return 0, nil
}

func TestGate_UpsertPostIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakePostStore()
	gate := New(store, &fakeMediaStore{}, zap.NewNop())

	post := harvest.Post{Platform: "weibo", PlatformID: "42", UserID: "u1"}
	created, err := gate.UpsertPost(context.Background(), post)
	require.NoError(t, err)
	require.True(t, created)

	post.UserID = "u2"
	created, err = gate.UpsertPost(context.Background(), post)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "u2", store.seen["weibo/42"].UserID)
}

func TestGate_FilterKnownMedia_SingleBatchedLookup(t *testing.T) {
	t.Parallel()

	media := &fakeMediaStore{existing: map[string]struct{}{
		"https://img.example.com/b.jpg": {},
	}}
	gate := New(newFakePostStore(), media, zap.NewNop())

	descriptors := []harvest.MediaDescriptor{
		{OriginURL: "https://img.example.com/a.jpg", Kind: harvest.MediaImage},
		{OriginURL: "https://img.example.com/b.jpg", Kind: harvest.MediaImage},
		{OriginURL: "https://img.example.com/c.jpg", Kind: harvest.MediaImage},
	}
	fresh, err := gate.FilterKnownMedia(context.Background(), descriptors)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	require.Equal(t, "https://img.example.com/a.jpg", fresh[0].OriginURL)
	require.Equal(t, "https://img.example.com/c.jpg", fresh[1].OriginURL)
	require.Equal(t, 1, media.queries)
}

func TestGate_FilterKnownMedia_CollapsesRepeatsWithinBatch(t *testing.T) {
	t.Parallel()

	media := &fakeMediaStore{}
	gate := New(newFakePostStore(), media, zap.NewNop())

	descriptors := []harvest.MediaDescriptor{
		{OriginURL: "https://wx3.sinaimg.cn/large/a.jpg", Kind: harvest.MediaImage},
		{OriginURL: "https://wx3.sinaimg.cn/large/a.jpg", Kind: harvest.MediaImage},
		{OriginURL: "https://wx3.sinaimg.cn/large/b.jpg", Kind: harvest.MediaImage},
	}
	fresh, err := gate.FilterKnownMedia(context.Background(), descriptors)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	require.Equal(t, "https://wx3.sinaimg.cn/large/a.jpg", fresh[0].OriginURL)
	require.Equal(t, "https://wx3.sinaimg.cn/large/b.jpg", fresh[1].OriginURL)
}

func TestGate_FilterKnownMedia_EmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	media := &fakeMediaStore{}
	gate := New(newFakePostStore(), media, zap.NewNop())

	fresh, err := gate.FilterKnownMedia(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, fresh)
	require.Zero(t, media.queries)
}

func TestGate_FilterKnownMedia_LookupFailure(t *testing.T) {
	t.Parallel()

	media := &fakeMediaStore{err: errors.New("db down")}
	gate := New(newFakePostStore(), media, zap.NewNop())

	_, err := gate.FilterKnownMedia(context.Background(), []harvest.MediaDescriptor{
		{OriginURL: "https://img.example.com/a.jpg"},
	})
	require.Error(t, err)
}

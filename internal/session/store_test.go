package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_CurrentFetchesOnceThenCaches(t *testing.T) {
	t.Parallel()

	source := &fakeSecretSource{cred: testCredential()}
	store := NewStore(source, zap.NewNop())

	first, err := store.Current(context.Background())
	require.NoError(t, err)
	second, err := store.Current(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, source.fetches)
}

func TestStore_RefreshRejectsEmptyBundle(t *testing.T) {
	t.Parallel()

	source := &fakeSecretSource{}
	store := NewStore(source, zap.NewNop())

	_, err := store.Refresh(context.Background())
	require.Error(t, err)
}

func TestStore_PushBackUpdatesSourceAndCache(t *testing.T) {
	t.Parallel()

	source := &fakeSecretSource{cred: testCredential()}
	store := NewStore(source, zap.NewNop())

	rotated := Credential{Cookies: []Cookie{{Name: "SUB", Value: "rotated"}}}
	require.NoError(t, store.PushBack(context.Background(), rotated))
	require.Len(t, source.updates, 1)

	cached, err := store.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rotated", cached.Cookies[0].Value)
	require.Zero(t, source.fetches)
}

func TestStore_ConcurrentRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &blockingSecretSource{cred: testCredential(), gate: gate}
	store := NewStore(source, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Refresh(context.Background())
			require.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, 1, source.count())
}

type blockingSecretSource struct {
	mu      sync.Mutex
	cred    Credential
	gate    chan struct{}
	fetches int
}

func (b *blockingSecretSource) Fetch(context.Context) (Credential, error) {
	b.mu.Lock()
	b.fetches++
	b.mu.Unlock()
	<-b.gate
	return b.cred, nil
}

func (b *blockingSecretSource) Update(context.Context, Credential) error { return nil }

func (b *blockingSecretSource) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

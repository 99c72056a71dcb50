package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	pagesFetchedTotal = nil
	postsDiscoveredTotal = nil
	mediaIngestedTotal = nil
	bytesDownloadedTotal = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if pagesFetchedTotal == nil || postsDiscoveredTotal == nil ||
		mediaIngestedTotal == nil || bytesDownloadedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage()
	if val := testutil.ToFloat64(pagesFetchedTotal); val != 1 {
		t.Errorf("Expected pagesFetchedTotal to be 1, got %f", val)
	}

	ObserveMediaIngested("image")
	ObserveMediaIngested("image")
	ObserveMediaIngested("video")
	if val := testutil.ToFloat64(mediaIngestedTotal.WithLabelValues("image")); val != 2 {
		t.Errorf("Expected image ingest count 2, got %f", val)
	}
}

func TestObserversNilSafe(t *testing.T) {
	// Observers must not panic before Init has run.
	pagesFetchedTotal = nil
	postsDiscoveredTotal = nil
	producersAbortedTotal = nil
	sessionRefreshesTotal = nil
	mediaIngestedTotal = nil
	mediaFailedTotal = nil
	bytesDownloadedTotal = nil
	pipelineActiveWorkers = nil

	ObservePage()
	ObservePostsDiscovered(3)
	ObserveProducerAborted()
	ObserveSessionRefresh()
	ObserveMediaIngested("image")
	ObserveMediaFailed("video")
	ObserveDownloadBytes(1024)
	IncActiveWorkers()
	DecActiveWorkers()

	Init()
}

func TestObservePostsDiscoveredIgnoresNonPositive(t *testing.T) {
	Init()
	before := testutil.ToFloat64(postsDiscoveredTotal)
	ObservePostsDiscovered(0)
	ObservePostsDiscovered(-4)
	if after := testutil.ToFloat64(postsDiscoveredTotal); after != before {
		t.Errorf("Expected counter unchanged at %f, got %f", before, after)
	}
}

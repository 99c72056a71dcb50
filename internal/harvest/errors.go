package harvest

import "errors"

// Sentinel errors classifying failures across the crawl and ingest pipelines.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrTransientFetch marks a network/timeout failure worth a bounded retry.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrSessionExpired marks a fetch that came back as a login prompt instead
	// of data. It triggers a bounded credential refresh.
	ErrSessionExpired = errors.New("session expired")

	// ErrMalformedPayload marks a page or post whose payload is missing
	// expected fields. The offending unit is skipped, never fatal.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnsupportedMedia marks a descriptor whose file type the pipeline
	// does not handle. The item is skipped.
	ErrUnsupportedMedia = errors.New("unsupported media kind")

	// ErrPayloadTooLarge marks a download that exceeded the byte ceiling.
	ErrPayloadTooLarge = errors.New("payload exceeds size ceiling")

	// ErrProducerAborted marks a producer crawl cut short after retry or
	// refresh budgets ran out. The run continues with the next producer.
	ErrProducerAborted = errors.New("producer crawl aborted")
)

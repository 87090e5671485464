package transfer

import (
	"context"

	"github.com/italolelis/photos_relay/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher    Fetcher
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry, clientType string) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:    fetcher,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Fetch fetches a media item with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, locator, credential string) ([]byte, error) {
	var result []byte

	var err error

	instrumentedErr := f.telemetry.InstrumentClientOperation(ctx, f.clientType, "fetch", func(ctx context.Context) error {
		result, err = f.fetcher.Fetch(ctx, locator, credential)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	f.telemetry.RecordFetchedBytes(ctx, int64(len(result)))

	return result, nil
}

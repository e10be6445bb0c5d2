package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

const (
	defaultFetchTimeout = 60 * time.Second
	maxResultBytes      = 64 << 20
)

// HTTPFetcher downloads provider result images.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher; a nil client gets a 60s timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTTPFetcher{client: client}
}

// Fetch returns the body of a successful GET.
func (fetcher *HTTPFetcher) Fetch(ctx context.Context, resultURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: result url %q: %v", restoration.ErrValidation, resultURL, err)
	}
	response, err := fetcher.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: download result: %v", restoration.ErrRemote, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download result returned %d", restoration.ErrRemote, response.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResultBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read result: %v", restoration.ErrRemote, err)
	}
	if len(body) > maxResultBytes {
		return nil, fmt.Errorf("%w: result exceeds %d bytes", restoration.ErrValidation, maxResultBytes)
	}
	return body, nil
}

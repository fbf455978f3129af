package light

import (
	"context"
	"time"

	"github.com/tenderlight/tenderlight/provider"
	httpp "github.com/tenderlight/tenderlight/provider/http"
	"github.com/tenderlight/tenderlight/store"
)

// NewHTTPClient initiates an instance of a light client using HTTP addresses
// for both the primary provider and witnesses of the light client. A trusted
// header and hash must be passed to initialize the client.
func NewHTTPClient(
	ctx context.Context,
	chainID string,
	trustOpts TrustOptions,
	primaryAddress string,
	witnessAddresses []string,
	trustedStore store.Store,
	options ...Option,
) (*Client, error) {
	providers, err := httpProviders(chainID, append([]string{primaryAddress}, witnessAddresses...))
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, chainID, trustOpts, providers[0], providers[1:], trustedStore, options...)
}

// NewHTTPClientFromTrustedStore initiates an instance of a light client using
// HTTP addresses for both the primary provider and witnesses and uses a
// trusted store as the root of trust.
func NewHTTPClientFromTrustedStore(
	chainID string,
	trustingPeriod time.Duration,
	primaryAddress string,
	witnessAddresses []string,
	trustedStore store.Store,
	options ...Option,
) (*Client, error) {
	providers, err := httpProviders(chainID, append([]string{primaryAddress}, witnessAddresses...))
	if err != nil {
		return nil, err
	}
	return NewClientFromTrustedStore(chainID, trustingPeriod, providers[0], providers[1:], trustedStore, options...)
}

func httpProviders(chainID string, addresses []string) ([]provider.Provider, error) {
	providers := make([]provider.Provider, 0, len(addresses))
	for _, address := range addresses {
		p, err := httpp.New(chainID, address, 0)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

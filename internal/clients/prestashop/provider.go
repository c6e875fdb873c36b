package prestashop

import (
	"context"
	"fmt"
	"sync"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/models"
)

// KeySource resolves a shop's API key from its secret reference
type KeySource interface {
	GetAPIKey(ctx context.Context, secretName string) (string, error)
}

// Provider builds and caches one client per shop
type Provider struct {
	keys    KeySource
	opts    Options
	mu      sync.Mutex
	clients map[int64]*cachedClient
}

type cachedClient struct {
	apiURL string
	apiKey string
	client *Client
}

// NewProvider creates a client provider. keys may be nil when only inline keys are used.
func NewProvider(keys KeySource, opts Options) *Provider {
	return &Provider{
		keys:    keys,
		opts:    opts,
		clients: make(map[int64]*cachedClient),
	}
}

var _ clients.ClientFactory = (*Provider)(nil)

// ClientFor returns the client for shop, rebuilding it when its URL or key changed
func (p *Provider) ClientFor(ctx context.Context, shop *models.Shop) (clients.ShopClient, error) {
	apiKey, err := p.resolveKey(ctx, shop)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.clients[shop.ID]; ok && cached.apiURL == shop.APIURL && cached.apiKey == apiKey {
		return cached.client, nil
	}
	client := NewClient(shop.APIURL, apiKey, p.opts)
	p.clients[shop.ID] = &cachedClient{apiURL: shop.APIURL, apiKey: apiKey, client: client}
	return client, nil
}

func (p *Provider) resolveKey(ctx context.Context, shop *models.Shop) (string, error) {
	if shop.SecretReference != "" {
		if p.keys == nil {
			return "", fmt.Errorf("shop %d references a secret but no secret manager is configured", shop.ID)
		}
		key, err := p.keys.GetAPIKey(ctx, shop.SecretReference)
		if err != nil {
			return "", fmt.Errorf("failed to load API key for shop %d: %w", shop.ID, err)
		}
		return key, nil
	}
	if shop.APIKey == "" {
		return "", fmt.Errorf("shop %d has no API key", shop.ID)
	}
	return shop.APIKey, nil
}

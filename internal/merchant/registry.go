package merchant

import (
	"sort"
	"time"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// Config is everything the core knows about one merchant: where to reach
// it and the shared secret its webhooks are signed with.
type Config struct {
	ID            string
	URL           string
	WebhookSecret string
}

// Registry holds the configured merchants and a ready client per merchant.
// It is built once at startup and read-only afterwards.
type Registry struct {
	configs map[string]Config
	clients map[string]*Client
}

func NewRegistry(configs []Config, timeout time.Duration) *Registry {
	r := &Registry{
		configs: make(map[string]Config, len(configs)),
		clients: make(map[string]*Client, len(configs)),
	}
	for _, cfg := range configs {
		if cfg.ID == "" {
			continue
		}
		r.configs[cfg.ID] = cfg
		r.clients[cfg.ID] = NewClient(cfg.ID, cfg.URL, timeout)
	}
	return r
}

func (r *Registry) Get(id string) (Config, bool) {
	cfg, ok := r.configs[id]
	return cfg, ok
}

func (r *Registry) Client(id string) (*Client, error) {
	client, ok := r.clients[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeMerchantNotFound, "merchant", id)
	}
	return client, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

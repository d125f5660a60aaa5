package weread

import (
	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

// Client bundles the platform operations used by the library service.
type Client struct {
	*Validator
	*Reconciler
	*DetailFetcher
}

// NewClient builds a Client that shares one transport across all
// operations.
func NewClient(cfg Config, transport Transport, credentials CredentialStore, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Get()
	}
	cfg = cfg.withDefaults()
	return &Client{
		Validator:     NewValidator(transport, cfg.WebURL, cfg.UserAgent, log),
		Reconciler:    NewReconciler(cfg, transport, credentials, log),
		DetailFetcher: NewDetailFetcher(transport, cfg.BaseURL, log),
	}
}

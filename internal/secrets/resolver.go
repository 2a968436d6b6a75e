package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/pkg/config"
	pkgsecrets "github.com/Checker-Finance/amocrm-adapter/pkg/secrets"
	"github.com/Checker-Finance/amocrm-adapter/pkg/utils"
)

// Secret keys recognised in the amoCRM credential secret.
const (
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyCode         = "code"
	KeyRedirectURI  = "redirect_uri"
	KeySubdomain    = "subdomain"
	KeyAPIURI       = "api_uri"
)

// CredentialResolver overlays amoCRM OAuth credentials kept in a secrets
// manager on top of the environment configuration.
type CredentialResolver struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
}

// NewCredentialResolver constructs a CredentialResolver.
func NewCredentialResolver(logger *zap.Logger, provider pkgsecrets.Provider) *CredentialResolver {
	return &CredentialResolver{logger: logger, provider: provider}
}

// Apply fetches secretID and overwrites the matching cfg fields with every
// non-empty value it holds. It returns the keys that were applied.
func (r *CredentialResolver) Apply(ctx context.Context, secretID string, cfg *config.Config) ([]string, error) {
	secretMap, err := r.provider.GetSecret(ctx, secretID)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", secretID),
			zap.Error(err))
		return nil, fmt.Errorf("resolve amocrm credentials from %q: %w", secretID, err)
	}

	targets := []struct {
		key string
		dst *string
	}{
		{KeyClientID, &cfg.ClientID},
		{KeyClientSecret, &cfg.ClientSecret},
		{KeyCode, &cfg.Code},
		{KeyRedirectURI, &cfg.RedirectURI},
		{KeySubdomain, &cfg.Subdomain},
		{KeyAPIURI, &cfg.APIURI},
	}

	var applied []string
	for _, t := range targets {
		if v := secretMap[t.key]; v != "" {
			*t.dst = v
			applied = append(applied, t.key)
		}
	}

	r.logger.Info("aws.amocrm_credentials_resolved",
		zap.String("key", secretID),
		zap.Strings("applied", applied),
		zap.String("client_secret", utils.MaskSecret(cfg.ClientSecret)))
	return applied, nil
}

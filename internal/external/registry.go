package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"smsdispatch/internal/config"
	"smsdispatch/internal/security"
	"smsdispatch/internal/types"
)

// Registry maps each supported provider to its client. The set is closed:
// sends for any other provider fail with types.ErrUnknownProvider.
type Registry struct {
	providers map[types.GatewayProvider]SMSProvider
}

// NewRegistry builds a registry from the given clients. A later client for the
// same provider replaces an earlier one.
func NewRegistry(providers ...SMSProvider) *Registry {
	r := &Registry{providers: make(map[types.GatewayProvider]SMSProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Provider()] = p
	}
	return r
}

// Lookup returns the client for p, if registered.
func (r *Registry) Lookup(p types.GatewayProvider) (SMSProvider, bool) {
	sp, ok := r.providers[p]
	return sp, ok
}

// Send routes msg to the client registered for gw.Provider.
func (r *Registry) Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error) {
	sp, ok := r.Lookup(gw.Provider)
	if !ok {
		return types.SendOutcome{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownProvider,
			fmt.Sprintf("Unknown gateway provider: %q", gw.Provider),
			types.ErrUnknownProvider,
			map[string]any{"gateway_id": gw.ID, "provider": string(gw.Provider)},
		)
	}
	return sp.Send(ctx, gw, msg)
}

// NewRegistryFromConfig returns the stub registry when the gateway stub is
// enabled in a local environment, and real provider clients otherwise. Each
// provider gets its own breaker so one failing provider does not block the
// others.
func NewRegistryFromConfig(cfg *config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Gateway.UseStub && cfg.Environment == "local" {
		logger.Info("initializing gateway clients in STUB mode", "environment", cfg.Environment)
		stubLogger := logger.With("mode", "stub")
		return NewRegistry(
			NewStubProvider(types.ProviderTwilio, stubLogger),
			NewStubProvider(types.ProviderMessageBird, stubLogger),
			NewStubProvider(types.ProviderWhatsApp, stubLogger),
		)
	}

	logger.Info("initializing gateway clients",
		"environment", cfg.Environment,
		"timeout", cfg.Gateway.Timeout,
		"http_retries", cfg.Gateway.HTTPRetries,
		"allow_private_endpoints", cfg.Gateway.AllowPrivateEndpoints,
	)

	httpClient := security.NewGatewayHTTPClient(cfg.Gateway.Timeout, cfg.Gateway.MaxRedirects)
	if cfg.Gateway.AllowPrivateEndpoints {
		httpClient = &http.Client{Timeout: cfg.Gateway.Timeout}
	}
	policy := DefaultRetryPolicy()
	policy.MaxRetries = cfg.Gateway.HTTPRetries

	newBase := func(p types.GatewayProvider) *BaseClient {
		return NewBaseClient(httpClient, "gateway-"+string(p), policy, cfg.Gateway.UserAgent)
	}

	return NewRegistry(
		NewTwilioClient(newBase(types.ProviderTwilio)),
		NewMessageBirdClient(newBase(types.ProviderMessageBird)),
		NewWhatsAppClient(newBase(types.ProviderWhatsApp)),
	)
}

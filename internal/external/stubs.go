package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"smsdispatch/internal/types"
)

// StubProvider accepts every message without network I/O and logs it. Used
// for local development when GATEWAY_USE_STUB=true.
type StubProvider struct {
	provider types.GatewayProvider
	logger   *slog.Logger
}

// NewStubProvider creates a StubProvider answering for provider.
func NewStubProvider(provider types.GatewayProvider, logger *slog.Logger) *StubProvider {
	return &StubProvider{provider: provider, logger: logger}
}

func (s *StubProvider) Provider() types.GatewayProvider { return s.provider }

func (s *StubProvider) Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error) {
	s.logger.InfoContext(ctx, "stub: Send called",
		"provider", s.provider,
		"gateway_id", gw.ID,
		"message_id", msg.MessageID,
		"to", msg.To,
	)
	return types.Accept(fmt.Sprintf("stub_%s_%s", s.provider, msg.MessageID), http.StatusOK), nil
}

var _ SMSProvider = (*StubProvider)(nil)

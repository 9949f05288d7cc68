package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"smsdispatch/internal/types"
)

// GatewayRepository reads gateway configuration. Gateways are managed
// elsewhere; the dispatch pipeline never writes them.
type GatewayRepository struct {
	db DBTX
}

// NewGatewayRepository creates a new GatewayRepository.
func NewGatewayRepository(db DBTX) *GatewayRepository {
	return &GatewayRepository{db: db}
}

// GetByID returns the gateway or ErrGatewayNotFound.
func (r *GatewayRepository) GetByID(ctx context.Context, id string) (*types.Gateway, error) {
	var (
		gw        types.Gateway
		provider  string
		accountID *string
		apiKey    string
		apiSecret *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, name, provider, api_endpoint, account_id, api_key, api_secret, is_active
		 FROM gateways
		 WHERE id = $1`,
		id,
	).Scan(
		&gw.ID,
		&gw.Name,
		&provider,
		&gw.APIEndpoint,
		&accountID,
		&apiKey,
		&apiSecret,
		&gw.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrGatewayNotFound
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get gateway", err)
	}

	gw.Provider = types.GatewayProvider(provider)
	gw.APIKey = types.SecretString(apiKey)
	if accountID != nil {
		gw.AccountID = *accountID
	}
	if apiSecret != nil {
		gw.APISecret = types.SecretString(*apiSecret)
	}
	return &gw, nil
}

package core

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"smsdispatch/internal/scheduler"
	"smsdispatch/internal/types"
)

// triggerActorID identifies manual trigger callers in logs.
const triggerActorID = "trigger_token"

// BearerTokenAuthenticator accepts the single operator token whose bcrypt
// hash is configured as TRIGGER_TOKEN_HASH.
type BearerTokenAuthenticator struct {
	hash []byte
}

// NewBearerTokenAuthenticator validates that hash is a bcrypt hash.
func NewBearerTokenAuthenticator(hash string) (*BearerTokenAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("trigger token hash is not a bcrypt hash: %w", err)
	}
	return &BearerTokenAuthenticator{hash: []byte(hash)}, nil
}

func (a *BearerTokenAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil)
	}
	return &types.Actor{
		ID:     triggerActorID,
		Type:   types.ActorTypeOperator,
		Source: scheduler.SourceHTTP,
	}, nil
}

package db

import (
	"context"
	_ "embed"

	"smsdispatch/internal/types"
)

// Schema is the DDL for every table the dispatch pipeline reads or writes.
// Statements are idempotent.
//
//go:embed schema.sql
var Schema string

// ApplySchema executes Schema against db.
func ApplySchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}

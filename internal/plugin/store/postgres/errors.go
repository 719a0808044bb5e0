package postgres

import registrystore "github.com/chirino/conversation-service/internal/registry/store"

// Re-export error types from registry/store for backward compatibility.
type NotFoundError = registrystore.NotFoundError
type InvalidQueryError = registrystore.InvalidQueryError
type ConflictError = registrystore.ConflictError
type UnavailableError = registrystore.UnavailableError

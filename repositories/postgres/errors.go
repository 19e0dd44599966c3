package postgres

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/identity-authority/repositories"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// constraintFields maps unique constraint and index names to the attribute reported in conflicts
var constraintFields = map[string]string{
	"users_username_key":             "username",
	"users_email_key":                "email",
	"services_name_key":              "name",
	"services_api_key_key":           "api_key",
	"roles_global_name_key":          "name",
	"roles_service_name_key":         "name",
	"user_services_global_key":       "grant",
	"user_services_user_service_key": "grant",
	"tokens_value_hash_key":          "value_hash",
}

// mapWriteError translates driver errors into repository errors
func mapWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			field, ok := constraintFields[pqErr.Constraint]
			if !ok {
				field = pqErr.Constraint
			}
			return &repositories.DuplicateError{Field: field}
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: referenced record missing: %w", op, repositories.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireAffected returns ErrNotFound when an update or delete touched no rows
func requireAffected(res interface{ RowsAffected() (int64, error) }, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func uuidsToStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToUUIDs(in pq.StringArray) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q in array: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// nullableJSON returns nil for empty payloads so JSONB columns store NULL
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// limitOrDefault clamps pagination limits
func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

package vectorstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsDimensionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "pgvector width", err: &pgconn.PgError{Code: "22000", Message: "expected 3 dimensions, not 2"}, want: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "22000", Message: "expected 768 dimensions, not 1536"}), want: true},
		{name: "other data exception", err: &pgconn.PgError{Code: "22000", Message: "invalid input"}},
		{name: "column named dimensions", err: &pgconn.PgError{Code: "42703", Message: `column "dimensions" does not exist`}},
		{name: "plain error text", err: errors.New("expected 3 dimensions, not 2")},
		{name: "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isDimensionError(tt.err); got != tt.want {
				t.Errorf("isDimensionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

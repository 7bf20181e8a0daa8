package service

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestConflictOr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadlock", wrapError(KindInternal, &pgconn.PgError{Code: "40P01"}, "take agent slot"), KindConcurrentModification},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindConcurrentModification},
		{"unique violation", wrapError(KindInternal, &pgconn.PgError{Code: "23505"}, "insert"), KindInternal},
		{"typed error", newError(KindAgentAtCapacity, "full"), KindAgentAtCapacity},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := conflictOr(tt.err)
			assert.Equal(t, tt.want, KindOf(got))
			if tt.want != KindConcurrentModification {
				assert.Same(t, tt.err, got)
			}
		})
	}
}

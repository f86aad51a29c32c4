package attendance

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, transient: true},
		{name: "unique race", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), transient: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}},
		{name: "plain", err: errors.New("boom")},
		{name: "engine error", err: duplicateCheckIn("s-1", "stu-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, errors.Is(got, ErrTransient))
			if !tt.transient {
				assert.Same(t, tt.err, got)
			}
		})
	}
	assert.NoError(t, classify(nil))
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, timePtr(sql.NullTime{}))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, &now, timePtr(sql.NullTime{Time: now, Valid: true}))

	assert.False(t, nullString("").Valid)
	assert.Equal(t, sql.NullString{String: "x", Valid: true}, nullString("x"))
}

package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		err  error
		kind apperr.Kind
	}{
		"serialization failure": {err: &pq.Error{Code: "40001"}, kind: apperr.KindContention},
		"deadlock":              {err: &pq.Error{Code: "40P01"}, kind: apperr.KindContention},
		"lock not available":    {err: fmt.Errorf("wrapped: %w", &pq.Error{Code: "55P03"}), kind: apperr.KindContention},
		"unique violation":      {err: &pq.Error{Code: "23505"}, kind: apperr.KindConflict},
		"no rows":               {err: sql.ErrNoRows, kind: apperr.KindUnavailable},
		"syntax error":          {err: &pq.Error{Code: "42601"}, kind: apperr.KindUnknown},
		"plain":                 {err: errors.New("boom"), kind: apperr.KindUnknown},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := classify("op", tc.err)
			assert.Equal(t, tc.kind, apperr.KindOf(got))
			assert.ErrorIs(t, got, tc.err)
		})
	}
	assert.NoError(t, classify("op", nil))
}

func TestJobRowToModel(t *testing.T) {
	r := jobRow{ID: "j1", Symbol: "BTC/USDT", Timeframes: pq.StringArray{"1h", "4h"}, Mode: "full", Status: "running", Progress: 0.4}
	j := r.toModel()
	assert.Equal(t, []models.Timeframe{models.TF1h, models.TF4h}, j.Timeframes)
	assert.Equal(t, models.JobModeFull, j.Mode)
	assert.Equal(t, models.JobRunning, j.Status)
}

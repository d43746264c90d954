package postgres

import (
	"math"
	"strings"
	"testing"
)

func TestInsertQueryPlaceholders(t *testing.T) {
	q := insertQuery(2)
	if !strings.HasSuffix(q, "($1, $2, $3, $4, $5, $6, $7, $8),($9, $10, $11, $12, $13, $14, $15, $16)") {
		t.Fatalf("unexpected query %q", q)
	}
	if strings.Count(q, "(") != 3 {
		t.Fatalf("expected column list plus 2 tuples, got %q", q)
	}
}

func TestNullFloatRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if v := nullFloat(&f); v.Valid {
			t.Fatalf("expected NULL for %v", f)
		}
	}
	ok := 12.5
	if v := nullFloat(&ok); !v.Valid || v.Float64 != 12.5 {
		t.Fatalf("expected 12.5, got %+v", v)
	}
	if v := nullFloat(nil); v.Valid {
		t.Fatalf("expected NULL for nil")
	}
}

package strata_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata"
	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/query"
	"github.com/pthm/strata/schema"
	"github.com/pthm/strata/test/testutil"
)

// Postgres tests need a container or DATABASE_URL and are skipped in -short
// mode.

func newPostgresEnv(t *testing.T, opts ...strata.Option) *env {
	t.Helper()
	return newEnvFor(t, testutil.Postgres(t), dialect.MustGet(dialect.Postgres), opts...)
}

func TestPostgresSaveRoundTrip(t *testing.T) {
	e := newPostgresEnv(t)
	ctx := context.Background()
	due := time.Date(2024, 3, 4, 5, 6, 7, 123456000, time.UTC)

	c := e.core(t, alice)
	saved := e.save(t, c, invoice("I-7", "C1").
		Set("amount", schema.NewDecimal(decimal.RequireFromString("12.50"))).
		Set("lines", schema.Int(3)).
		Set("paid", schema.Bool(true)).
		Set("due", schema.NewTime(due)).
		Set("data", schema.Blob{1, 2, 3}).
		Set("tags", schema.MultiText{"a", "b"}))
	require.NoError(t, e.eng.Commit(ctx, c))

	got, err := e.eng.GetObjectBy(ctx, c, testutil.Invoice, "number", schema.Text("I-7"))
	require.NoError(t, err)
	assert.Equal(t, saved.LogicalID, got.LogicalID)
	assert.True(t, got.IsCurrent())
	for _, name := range []string{"number", "customer", "amount", "lines", "paid", "due", "data", "tags"} {
		if !schema.Equal(saved.Get(name), got.Get(name)) {
			t.Errorf("%s: saved %v, read %v", name, saved.Get(name), got.Get(name))
		}
	}
}

func TestPostgresVersioning(t *testing.T) {
	e := newPostgresEnv(t)
	ctx := context.Background()
	i1, _ := e.seed(t)

	c := e.core(t, alice)
	v2 := e.save(t, c, i1.Clone().Set("number", schema.Text("I-1b")))
	require.NoError(t, e.eng.Commit(ctx, c))
	assert.Equal(t, i1.LogicalID, v2.LogicalID)

	tests := []struct {
		name    string
		history bool
		want    int
	}{
		{"current only", false, 1},
		{"history", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := query.New(testutil.Invoice)
			q.History = tt.history
			q.Root.Filter(query.C(query.FieldID, query.Eq, schema.Int(i1.LogicalID)))
			objs, err := e.eng.GetObjects(ctx, c, q, 0, 0)
			require.NoError(t, err)
			assert.Len(t, objs, tt.want)
		})
	}

	_, err := e.eng.GetObjectBy(ctx, c, testutil.Invoice, "number", schema.Text("I-1"))
	assert.True(t, strata.IsObjectNotFoundErr(err), "err = %v", err)
}

package testutil

import (
	_ "embed"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/schema"
)

//go:embed testdata/catalog.yaml
var catalogYAML []byte

// Fixture type ids.
const (
	Customer schema.TypeID = 1
	Invoice  schema.TypeID = 2
	Identity schema.TypeID = 3
	Line     schema.TypeID = 4
	Note     schema.TypeID = 5
)

// CatalogYAML returns the fixture catalog document.
func CatalogYAML() []byte {
	return append([]byte(nil), catalogYAML...)
}

// Catalog returns the fixture catalog: CUSTOMER (config table, permanent
// cache), INVOICE (bounded cache, configured through CUSTOMER, delegated over
// the "empowers" link), IDENTITY, LINE (child of INVOICE) and NOTE (uncached).
func Catalog(tb testing.TB) *schema.Catalog {
	tb.Helper()
	cat, err := schema.Load(catalogYAML)
	require.NoError(tb, err, "load fixture catalog")
	return cat
}

package dbmigrate

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations_AreSortedAndPaired(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)

	var ups, downs []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups = append(ups, strings.TrimSuffix(name, ".up.sql"))
		case strings.HasSuffix(name, ".down.sql"):
			downs = append(downs, strings.TrimSuffix(name, ".down.sql"))
		}
	}

	require.NotEmpty(t, ups)
	require.ElementsMatch(t, ups, downs, "every up migration must have a matching down migration")

	sorted := append([]string(nil), ups...)
	sort.Strings(sorted)
	require.Equal(t, sorted, append([]string(nil), ups...))
}

package market

import (
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCatalog(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	goods, err := GenerateCatalog(r, "Alice Brown", 50, 10000)
	require.NoError(t, err)
	require.Len(t, goods, 50)

	name := regexp.MustCompile(`^AB-[A-Z]{4}$`)
	seen := make(map[string]bool)
	for i, g := range goods {
		require.NoError(t, g.ValidateBasic())
		assert.Regexp(t, name, g.Name)
		assert.False(t, seen[g.Name], "duplicate %s", g.Name)
		seen[g.Name] = true
		assert.True(t, g.Price >= 0 && g.Price <= 10000, "price %d", g.Price)
		if i > 0 {
			assert.Less(t, goods[i-1].Name, g.Name)
		}
	}
}

func TestGenerateCatalogEdgeCases(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	goods, err := GenerateCatalog(r, "carol", 3, 0)
	require.NoError(t, err)
	for _, g := range goods {
		assert.Regexp(t, `^C-`, g.Name)
		assert.Zero(t, g.Price)
	}

	goods, err = GenerateCatalog(r, "dave", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, goods)

	_, err = GenerateCatalog(r, "erin", -1, 100)
	assert.Error(t, err)
	_, err = GenerateCatalog(r, "erin", 1, -1)
	assert.Error(t, err)
}

func TestInitials(t *testing.T) {
	testCases := map[string]string{
		"Alice":           "A",
		"alice brown":     "AB",
		"  Jean  Luc  P":  "JLP",
		"jean-luc_picard": "JLP",
		"a.b":             "AB",
		"élodie":          "É",
	}
	for name, want := range testCases {
		assert.Equal(t, want, initials(name), name)
	}
}

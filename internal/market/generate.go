package market

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"unicode"

	"github.com/mroth/weightedrand"

	"github.com/tendermint/bazaar/types"
)

const (
	goodsNameLetters = 4
	maxCatalogSize   = 26 * 26 * 26 * 26
)

// priceTier is a price range, as fractions of the maximum price.
type priceTier struct {
	lo, hi float64
}

// Cheap goods are the most common, luxury goods the rarest.
var priceTiers = []weightedrand.Choice{
	{Item: priceTier{0, 0.1}, Weight: 5},
	{Item: priceTier{0.1, 0.5}, Weight: 3},
	{Item: priceTier{0.5, 1}, Weight: 1},
}

// GenerateCatalog returns size goods for the named participant. Goods are
// named after the participant's initials followed by random capital letters,
// e.g. "AB-QZKF" for "alice-brown", and priced between 0 and maxPrice.
func GenerateCatalog(r *rand.Rand, name string, size int, maxPrice int64) ([]types.Goods, error) {
	if size < 0 || size > maxCatalogSize {
		return nil, fmt.Errorf("cannot generate %d goods", size)
	}
	if maxPrice < 0 {
		return nil, errors.New("negative maximum price")
	}

	chooser, err := weightedrand.NewChooser(priceTiers...)
	if err != nil {
		return nil, err
	}

	prefix := initials(name) + "-"
	seen := make(map[string]bool, size)
	goods := make([]types.Goods, 0, size)
	for len(goods) < size {
		n := goodsName(r, prefix)
		if seen[n] {
			continue
		}
		seen[n] = true

		tier := chooser.PickSource(r).(priceTier)
		goods = append(goods, types.Goods{Name: n, Price: tier.price(r, maxPrice)})
	}
	return types.SortGoods(goods), nil
}

func (t priceTier) price(r *rand.Rand, maxPrice int64) int64 {
	lo := int64(t.lo * float64(maxPrice))
	hi := int64(t.hi * float64(maxPrice))
	if hi <= lo {
		return lo
	}
	return lo + r.Int63n(hi-lo)
}

func initials(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.'
	})
	var sb strings.Builder
	for _, f := range words {
		sb.WriteRune(unicode.ToUpper([]rune(f)[0]))
	}
	return sb.String()
}

func goodsName(r *rand.Rand, prefix string) string {
	b := []byte(prefix)
	for i := 0; i < goodsNameLetters; i++ {
		b = append(b, byte('A'+r.Intn(26)))
	}
	return string(b)
}

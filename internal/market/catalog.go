package market

import (
	"github.com/tendermint/bazaar/types"
)

// Catalog is the set of goods a seller currently offers, keyed by name.
// It is not safe for concurrent use; a participant only touches it from its
// processing goroutine.
type Catalog struct {
	goods map[string]types.Goods
}

// NewCatalog returns a catalog offering goods. Later duplicates of a name
// replace earlier ones.
func NewCatalog(goods ...types.Goods) *Catalog {
	c := &Catalog{goods: make(map[string]types.Goods, len(goods))}
	for _, g := range goods {
		c.Add(g)
	}
	return c
}

// Add offers g, replacing any goods of the same name.
func (c *Catalog) Add(g types.Goods) {
	c.goods[g.Name] = g
}

// Remove withdraws the named goods and returns them.
func (c *Catalog) Remove(name string) (types.Goods, bool) {
	g, ok := c.goods[name]
	if ok {
		delete(c.goods, name)
	}
	return g, ok
}

// Get returns the named goods.
func (c *Catalog) Get(name string) (types.Goods, bool) {
	g, ok := c.goods[name]
	return g, ok
}

// Has reports whether the named goods are offered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.goods[name]
	return ok
}

// Len returns the number of offered goods.
func (c *Catalog) Len() int { return len(c.goods) }

// List returns a copy of the offered goods sorted by name.
func (c *Catalog) List() []types.Goods {
	list := make([]types.Goods, 0, len(c.goods))
	for _, g := range c.goods {
		list = append(list, g)
	}
	return types.SortGoods(list)
}

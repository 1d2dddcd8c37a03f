package types

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Goods is a single item a participant offers for sale. Names are unique
// within the offering participant's catalog.
type Goods struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// ValidateBasic performs basic validation.
func (g Goods) ValidateBasic() error {
	if g.Name == "" {
		return errors.New("empty goods name")
	}
	if g.Price < 0 {
		return fmt.Errorf("negative price %d for %q", g.Price, g.Name)
	}
	return nil
}

func (g Goods) String() string {
	return fmt.Sprintf("%s: %d", g.Name, g.Price)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (g Goods) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", g.Name)
	e.Int64("price", g.Price)
}

// SortGoods orders goods by name, in place, and returns them.
func SortGoods(goods []Goods) []Goods {
	sort.Slice(goods, func(i, j int) bool { return goods[i].Name < goods[j].Name })
	return goods
}

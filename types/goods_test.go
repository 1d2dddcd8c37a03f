package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoods(t *testing.T) {
	assert.NoError(t, Goods{Name: "x", Price: 0}.ValidateBasic())
	assert.Error(t, Goods{Price: 1}.ValidateBasic())
	assert.Error(t, Goods{Name: "x", Price: -1}.ValidateBasic())
	assert.Equal(t, "x: 12", Goods{Name: "x", Price: 12}.String())

	goods := SortGoods([]Goods{{"c", 1}, {"a", 2}, {"b", 3}})
	assert.Equal(t, []Goods{{"a", 2}, {"b", 3}, {"c", 1}}, goods)
}

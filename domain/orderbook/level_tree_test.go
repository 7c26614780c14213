package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelTreeInsertFindDelete(t *testing.T) {
	tr := NewLevelTree()

	for _, p := range []string{"101", "99", "100", "105", "98.5"} {
		lvl := tr.GetOrCreate(d(p))
		require.NotNil(t, lvl)
		assert.True(t, lvl.Price.Equal(d(p)))
	}
	assert.Equal(t, 5, tr.Len())

	// Same numeric price is the same level regardless of spelling.
	assert.Same(t, tr.Find(d("100")), tr.GetOrCreate(d("100.00")))
	assert.Equal(t, 5, tr.Len())

	assert.Nil(t, tr.Find(d("42")))

	tr.Delete(d("100"))
	assert.Nil(t, tr.Find(d("100")))
	assert.Equal(t, 4, tr.Len())
}

func TestLevelTreeMinMax(t *testing.T) {
	tr := NewLevelTree()
	assert.Nil(t, tr.Min())
	assert.Nil(t, tr.Max())

	for _, p := range []string{"103", "97", "100", "99.5"} {
		tr.GetOrCreate(d(p))
	}

	assert.True(t, tr.Min().Price.Equal(d("97")))
	assert.True(t, tr.Max().Price.Equal(d("103")))

	tr.Delete(d("97"))
	assert.True(t, tr.Min().Price.Equal(d("99.5")))
}

func TestLevelTreeOrderedTraversal(t *testing.T) {
	tr := NewLevelTree()
	prices := []string{"105", "95", "100", "102.5", "97", "101"}
	for _, p := range prices {
		tr.GetOrCreate(d(p))
	}

	var asc []decimal.Decimal
	tr.Ascend(func(lvl *PriceLevel) bool {
		asc = append(asc, lvl.Price)
		return true
	})
	require.Len(t, asc, len(prices))
	for i := 1; i < len(asc); i++ {
		assert.True(t, asc[i-1].LessThan(asc[i]), "ascend must be sorted")
	}

	var desc []decimal.Decimal
	tr.Descend(func(lvl *PriceLevel) bool {
		desc = append(desc, lvl.Price)
		return true
	})
	for i := 1; i < len(desc); i++ {
		assert.True(t, desc[i-1].GreaterThan(desc[i]), "descend must be sorted")
	}

	var stopped []decimal.Decimal
	tr.Ascend(func(lvl *PriceLevel) bool {
		stopped = append(stopped, lvl.Price)
		return len(stopped) < 2
	})
	assert.Len(t, stopped, 2)
}

func TestLevelTreeManyInsertsAndDeletes(t *testing.T) {
	tr := NewLevelTree()

	for i := 1; i <= 512; i++ {
		tr.GetOrCreate(decimal.NewFromInt(int64(i)))
	}
	assert.Equal(t, 512, tr.Len())

	for i := 2; i <= 512; i += 2 {
		tr.Delete(decimal.NewFromInt(int64(i)))
	}
	assert.Equal(t, 256, tr.Len())

	assert.True(t, tr.Min().Price.Equal(d("1")))
	assert.True(t, tr.Max().Price.Equal(d("511")))

	count := 0
	prev := decimal.Zero
	tr.Ascend(func(lvl *PriceLevel) bool {
		assert.True(t, lvl.Price.GreaterThan(prev))
		assert.Equal(t, int64(1), lvl.Price.IntPart()%2, "only odd prices remain")
		prev = lvl.Price
		count++
		return true
	})
	assert.Equal(t, 256, count)
}

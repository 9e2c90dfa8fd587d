package engine

import (
	"encoding/binary"
	"math"

	"github.com/razeghi71/dqflow/table"
	"github.com/zeebo/xxh3"
)

// Group is a set of rows sharing one group key.
type Group struct {
	Key  []table.Value
	Rows []int // indices into the table's rows, in input order
}

// GroupRows partitions the rows of t by the values of columns. Groups are
// returned in order of first occurrence of their key. Keys compare with
// table.KeyEqual, so rows with null keys form one group. With no columns
// every row falls into a single group.
func GroupRows(t *table.Table, columns []string) ([]Group, error) {
	keyIdx, err := columnIndices(t, columns)
	if err != nil {
		return nil, err
	}
	return groupByIndex(t, keyIdx), nil
}

func groupByIndex(t *table.Table, keyIdx []int) []Group {
	var groups []Group
	buckets := make(map[uint64][]int) // key hash -> indices into groups
	var buf []byte

	for ri, row := range t.Rows {
		buf = appendKey(buf[:0], row, keyIdx)
		h := xxh3.Hash(buf)

		gi := -1
		for _, cand := range buckets[h] {
			if sameKey(groups[cand].Key, row, keyIdx) {
				gi = cand
				break
			}
		}
		if gi < 0 {
			key := make([]table.Value, len(keyIdx))
			for i, idx := range keyIdx {
				key[i] = row.Values[idx]
			}
			gi = len(groups)
			groups = append(groups, Group{Key: key})
			buckets[h] = append(buckets[h], gi)
		}
		groups[gi].Rows = append(groups[gi].Rows, ri)
	}
	return groups
}

func sameKey(key []table.Value, row table.Row, keyIdx []int) bool {
	for i, idx := range keyIdx {
		if !table.KeyEqual(key[i], row.Values[idx]) {
			return false
		}
	}
	return true
}

// appendKey writes a canonical encoding of the row's key: values that are
// KeyEqual encode identically.
func appendKey(buf []byte, row table.Row, keyIdx []int) []byte {
	for _, idx := range keyIdx {
		v := row.Values[idx]
		buf = append(buf, byte(v.Type))
		switch v.Type {
		case table.TypeNumber:
			f := v.Num
			switch {
			case math.IsNaN(f):
				f = math.NaN()
			case f == 0:
				f = 0
			}
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
		case table.TypeString:
			buf = binary.AppendUvarint(buf, uint64(len(v.Str)))
			buf = append(buf, v.Str...)
		}
	}
	return buf
}

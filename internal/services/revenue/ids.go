package revenue

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// SortIDs orders ids by their byte value
func SortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

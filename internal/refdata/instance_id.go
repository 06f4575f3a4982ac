package refdata

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/rickgao/marketlake/internal/model"
)

// InstanceID derives the stable id of the version of key starting at validFrom.
// The result is non-negative.
func InstanceID(key model.NaturalKey, validFrom int64) int64 {
	var buf [2 + 4 + 8]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(key.VenueID))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(key.VenueSymbol)))

	d := xxhash.New()
	d.Write(buf[:6])
	d.WriteString(key.VenueSymbol)
	binary.LittleEndian.PutUint64(buf[6:14], uint64(validFrom))
	d.Write(buf[6:14])

	return int64(d.Sum64() & math.MaxInt64)
}

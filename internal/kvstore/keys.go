package kvstore

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/roach88/stableid/internal/model"
)

var (
	prefixSnapshot = []byte("snap/")
	prefixStable   = []byte("sid/")
	prefixAlias    = []byte("alias/")
	prefixRecord   = []byte("rec/")
	prefixRecStab  = []byte("rsid/")
	prefixEntities = []byte("ent/")
	prefixLog      = []byte("log/")
)

var errMalformedKey = errors.New("malformed key")

// join appends each part as a uvarint length followed by its bytes. Parts may
// hold any byte, and the encoding of a shorter part list is a prefix only of
// keys that share those exact parts.
func join(prefix []byte, parts ...string) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += binary.MaxVarintLen64 + len(p)
	}
	b := make([]byte, 0, n)
	b = append(b, prefix...)
	for _, p := range parts {
		b = binary.AppendUvarint(b, uint64(len(p)))
		b = append(b, p...)
	}
	return b
}

func snapshotKey(id model.EntityID) []byte {
	return join(prefixSnapshot, strconv.FormatInt(int64(id), 10))
}

func stableKey(id model.StableID) []byte {
	return join(prefixStable, string(id))
}

func aliasKey(canonical, alias model.StableID) []byte {
	return join(prefixAlias, string(canonical), string(alias))
}

func aliasPrefix(canonical model.StableID) []byte {
	return join(prefixAlias, string(canonical))
}

func recordKey(r model.RecordID) []byte {
	return join(prefixRecord, r.DataSource, r.RecordKey)
}

func recordStableKey(id model.StableID, r model.RecordID) []byte {
	return join(prefixRecStab, string(id), r.DataSource, r.RecordKey)
}

func recordStablePrefix(id model.StableID) []byte {
	return join(prefixRecStab, string(id))
}

func entitiesKey(id model.StableID) []byte {
	return join(prefixEntities, string(id))
}

// logKey encodes seq big-endian so key order is seq order.
func logKey(seq int64) []byte {
	key := make([]byte, len(prefixLog)+8)
	copy(key, prefixLog)
	binary.BigEndian.PutUint64(key[len(prefixLog):], uint64(seq))
	return key
}

func seqFromLogKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(prefixLog):]))
}

// splitSuffix decodes the parts of key that follow prefix.
func splitSuffix(key, prefix []byte) ([]string, error) {
	rest := key[len(prefix):]
	var out []string
	for len(rest) > 0 {
		n, w := binary.Uvarint(rest)
		if w <= 0 || uint64(len(rest)-w) < n {
			return nil, errMalformedKey
		}
		rest = rest[w:]
		out = append(out, string(rest[:n]))
		rest = rest[n:]
	}
	return out, nil
}

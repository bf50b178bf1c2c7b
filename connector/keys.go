package connector

import (
	"fmt"
	"strconv"
	"strings"
)

// Blob naming convention shared by path-keyed backends (local disk, object
// stores): a file <name> stores its blobs as
//
//	<name>.0, <name>.1, ...          generation 0
//	<name>.g<G>.0, <name>.g<G>.1     generation G > 0
//
// Parsing is anchored on the known file name, so dots inside <name> are
// harmless. Two distinct files can only collide when one is literally named
// <other>.g<digits>; backends listing by "<name>." prefix plus ParseBlobKey
// resolve in favor of the generation reading.

// BlobKey builds the native key suffix for a blob of the named file.
func BlobKey(name string, gen uint64, index int) string {
	if gen == 0 {
		return fmt.Sprintf("%s.%d", name, index)
	}
	return fmt.Sprintf("%s.g%d.%d", name, gen, index)
}

// BlobFileName recovers the logical file name from a native blob key without
// knowing the name in advance, for directory listings. ok is false when the
// key is not blob-shaped. Keys of a file literally named <x>.g<digits>
// resolve to <x>, per the convention above.
func BlobFileName(key string) (string, bool) {
	name, idx, found := cutLast(key, ".")
	if !found {
		return "", false
	}
	if v, err := strconv.Atoi(idx); err != nil || v < 0 {
		return "", false
	}
	if base, g, found := cutLast(name, "."); found {
		if gs, hasG := strings.CutPrefix(g, "g"); hasG {
			if v, err := strconv.ParseUint(gs, 10, 64); err == nil && v > 0 {
				return base, true
			}
		}
	}
	return name, true
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// ParseBlobKey extracts generation and index from a native key belonging to
// the named file. ok is false when the key is not a blob of that file.
func ParseBlobKey(name, key string) (gen uint64, index int, ok bool) {
	rest, found := strings.CutPrefix(key, name+".")
	if !found || rest == "" {
		return 0, 0, false
	}

	if g, idx, found := strings.Cut(rest, "."); found {
		gs, hasG := strings.CutPrefix(g, "g")
		if !hasG {
			return 0, 0, false
		}
		gv, err := strconv.ParseUint(gs, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		iv, err := strconv.Atoi(idx)
		if err != nil || iv < 0 || gv == 0 {
			return 0, 0, false
		}
		return gv, iv, true
	}

	iv, err := strconv.Atoi(rest)
	if err != nil || iv < 0 {
		return 0, 0, false
	}
	return 0, iv, true
}

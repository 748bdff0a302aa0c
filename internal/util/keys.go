package util

import (
	"strconv"
	"strings"
)

// Storage key layout:
//
//	stream:<len(ns)>:<ns>:<key>:m        - master record
//	stream:<len(ns)>:<ns>:<key>:c:<idx>  - chunk entry
//
// The namespace is length-prefixed so that neither it nor the key needs
// escaping. A chunk suffix always ends in digits, a master suffix in "m".
const masterSentinel = "m"

// StreamPrefix returns the prefix shared by every entry of one stream.
func StreamPrefix(ns, key string) string {
	n := strconv.Itoa(len(ns))
	var b strings.Builder
	b.Grow(len("stream:") + len(n) + 1 + len(ns) + 1 + len(key) + 1)
	b.WriteString("stream:")
	b.WriteString(n)
	b.WriteByte(':')
	b.WriteString(ns)
	b.WriteByte(':')
	b.WriteString(key)
	b.WriteByte(':')
	return b.String()
}

func MasterKey(ns, key string) string {
	return StreamPrefix(ns, key) + masterSentinel
}

func ChunkKey(ns, key string, index int64) string {
	return StreamPrefix(ns, key) + "c:" + strconv.FormatInt(index, 10)
}

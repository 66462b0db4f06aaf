package transport

import (
	"hash/fnv"
	"net"
)

// ConversationID derives the KCP conversation ID both peers will use, from
// the sorted textual endpoint pair. Sorting makes the result symmetric, so
// each side computes the same ID without negotiation and the first segment
// is recognised on arrival.
func ConversationID(a, b *net.UDPAddr) uint32 {
	first, second := a.String(), b.String()
	if second < first {
		first, second = second, first
	}

	hasher := fnv.New32a()
	hasher.Write([]byte(first))
	hasher.Write([]byte{0})
	hasher.Write([]byte(second))
	return hasher.Sum32()
}

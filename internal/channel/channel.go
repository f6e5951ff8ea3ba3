// Package channel derives the routing key shared by two chat participants.
//
// Every component that needs a channel key (the connection registry, cache
// keys, cache invalidation and fanout) must obtain it from Canonicalize so
// that a write from A to B and a read for B,A land on the same bucket.
package channel

// Key identifies the conversation between an unordered pair of participants.
type Key string

func (k Key) String() string { return string(k) }

// Canonicalize returns max(a,b) + "_" + min(a,b). The result does not depend
// on argument order.
func Canonicalize(a, b string) Key {
	if a < b {
		a, b = b, a
	}
	return Key(a + "_" + b)
}

// Pair is the participant pair a connection subscribed with.
type Pair struct {
	A string `json:"peerA"`
	B string `json:"peerB"`
}

func (p Pair) Key() Key { return Canonicalize(p.A, p.B) }

// Valid reports whether both participants are set.
func (p Pair) Valid() bool { return p.A != "" && p.B != "" }

// Package topic defines the Descriptor, the key that matches published messages to
// subscribers.
//
// A Descriptor is an opaque, comparable, owned string shaped like a URI path:
//
//	d, err := topic.Parse("rooms/1")   // "/rooms/1"
//	d2 := topic.MustParse("/rooms/1/") // "/rooms/1"
//	d == d2                            // true
//
// Matching in the broker is exact equality. There are no wildcards.
package topic

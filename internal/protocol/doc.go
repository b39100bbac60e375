// Package protocol defines the message set and wire encoding used between
// the gpioctl CLI and the broker.
//
// Every exchange is a single request message followed by a single response
// message over a connected Unix-domain stream socket. A message is framed
// as a fixed 8-byte header followed by a kind-specific body:
//
//	0     2    3    4         8
//	┌─────┬────┬────┬─────────┬───────────────┐
//	│magic│ver │kind│ bodyLen │ body ...      │
//	│ gc  │ 01 │    │ uint32  │ bodyLen bytes │
//	└─────┴────┴────┴─────────┴───────────────┘
//
// All multi-byte fields are big-endian. The decoder reads exactly the
// advertised number of body bytes and rejects unknown kinds, unsupported
// versions, and limit violations, so a misbehaving peer can never make the
// other side mis-frame the stream.
//
// The protocol is internal to gpioctl. It is versioned so that a client and
// a long-running broker from different builds fail loudly instead of
// exchanging garbage, but it is not a public interface.
package protocol

// Package protocol owns the replicated call contract shared by every peer.
//
// Ownership boundary:
// - peer roles and transmission modes
// - authority and recipient policy predicates
// - hashing, call envelope, tlv slots, and payload types (subpackages)
package protocol

/*
Package registry implements the proof-of-existence registry: the authoritative mapping from a
fingerprint (an opaque byte string, usually a content hash) to the identity that claimed it and the
block at which the claim was made or last transferred.

Each fingerprint is either unclaimed or claimed by exactly one owner. A claim is created by Create,
handed over by Transfer and removed by Revoke; revocation leaves no trace, so the fingerprint can be
claimed again. Every call is all-or-nothing: a rejected call neither touches the store nor emits an
event.

The registry trusts its inputs: the caller identity is already authenticated and the block number
already determined by the host (see package node).
*/
package registry

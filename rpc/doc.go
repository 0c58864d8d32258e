// Package rpc exposes a node over gRPC and REST.
//
// The gRPC service poe.v1.RegistryService is described by hand and carries
// JSON messages (content-subtype "json"). The REST routes call the same
// handlers in process.
package rpc

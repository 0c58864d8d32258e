// Package storage provides persistent backends for the registry map and the
// node's chain state.
package storage

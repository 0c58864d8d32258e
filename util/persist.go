// Package util holds small helpers shared by the daemon and its tools.
package util

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// Persist writes v XDR encoded to filename. The file is replaced atomically
// so a crash never leaves a partial file behind.
func Persist[T any](filename string, v *T) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

// Load reads a value written by Persist. A missing file is reported with
// an error matching os.ErrNotExist.
func Load[T any](filename string) (*T, error) {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	v := new(T)
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return nil, fmt.Errorf("deserializing: %w", err)
	}
	return v, nil
}

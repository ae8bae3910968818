// Package adapters wires every built-in venue integration into the adapter
// registry at compile time.
package adapters

import (
	"github.com/foggle/foggle/internal/adapters/hyperliquid"
	"github.com/foggle/foggle/internal/exchange"
)

// NewRegistry returns a registry with all built-in venue adapters installed.
func NewRegistry() (*exchange.Registry, error) {
	reg := exchange.NewRegistry()
	if err := hyperliquid.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

//go:build !deadlock

// Package syncutil selects the mutex implementation used to guard session
// state. Plain sync.Mutex is the default; building with -tags=deadlock swaps
// in github.com/sasha-s/go-deadlock for lock-order diagnostics.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// Package thread carries the per-thread context the storage and paging
// layers need: an identity for ownership tagging and the thread's page
// directory.
package thread

import (
	"sync/atomic"

	"github.com/tugui/pintos/pagedir"
)

var tidCounter uint32

type Thread struct {
	TID     uint32
	Name    string
	Pagedir *pagedir.Dir
}

func New(name string) *Thread {
	return &Thread{
		TID:     atomic.AddUint32(&tidCounter, 1),
		Name:    name,
		Pagedir: pagedir.New(),
	}
}

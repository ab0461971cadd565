// Package file provides position-carrying handles over inodes. Each handle
// owns one inode reference and its own readahead state, so two openers of
// one file prefetch independently.
package file

import (
	"github.com/tugui/pintos/inode"
	"github.com/tugui/pintos/thread"
)

type File struct {
	ino       *inode.Inode
	ra        *inode.RAState
	pos       int64
	denyWrite bool
}

// New wraps an open inode handle. The handle's reference passes to the File.
func New(ino *inode.Inode) *File {
	if ino == nil {
		return nil
	}
	return &File{ino: ino, ra: inode.MkRAState()}
}

// Reopen returns an independent handle on the same inode, with its own
// position and readahead state.
func (f *File) Reopen() *File {
	if f == nil {
		return nil
	}
	return New(f.ino.Reopen())
}

// Close releases the handle's inode reference, re-allowing writes if this
// handle denied them.
func (f *File) Close(t *thread.Thread) {
	if f == nil {
		return
	}
	if f.denyWrite {
		f.ino.AllowWrite()
		f.denyWrite = false
	}
	f.ino.Close(t)
}

func (f *File) Inode() *inode.Inode {
	return f.ino
}

func (f *File) IsDir(t *thread.Thread) bool {
	return f.ino.IsDir(t)
}

func (f *File) Length(t *thread.Thread) int64 {
	return f.ino.Length(t)
}

// Read reads from the current position, advancing it by the bytes read.
func (f *File) Read(t *thread.Thread, buf []byte) int {
	n := f.ino.ReadAt(t, f.ra, buf, f.pos)
	f.pos += int64(n)
	return n
}

// ReadAt reads at an absolute offset without moving the position.
func (f *File) ReadAt(t *thread.Thread, buf []byte, off int64) int {
	return f.ino.ReadAt(t, f.ra, buf, off)
}

// Write writes at the current position, advancing it by the bytes written.
func (f *File) Write(t *thread.Thread, buf []byte) int {
	n := f.ino.WriteAt(t, buf, f.pos)
	f.pos += int64(n)
	return n
}

// WriteAt writes at an absolute offset without moving the position.
func (f *File) WriteAt(t *thread.Thread, buf []byte, off int64) int {
	return f.ino.WriteAt(t, buf, off)
}

// Seek sets the position for the next Read or Write.
func (f *File) Seek(pos int64) {
	if pos >= 0 {
		f.pos = pos
	}
}

// Tell reports the current position.
func (f *File) Tell() int64 {
	return f.pos
}

// DenyWrite blocks writes to the underlying inode for this handle's
// lifetime. Idempotent per handle.
func (f *File) DenyWrite() {
	if !f.denyWrite {
		f.ino.DenyWrite()
		f.denyWrite = true
	}
}

// AllowWrite undoes this handle's DenyWrite.
func (f *File) AllowWrite() {
	if f.denyWrite {
		f.ino.AllowWrite()
		f.denyWrite = false
	}
}

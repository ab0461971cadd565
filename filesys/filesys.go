// Package filesys wires the device, the sector cache, the free map, and the
// inode engine into one file system instance. Files are addressed by inode
// sector; path lookup belongs to the directory layer above this one.
package filesys

import (
	"github.com/tugui/pintos/cache"
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/file"
	"github.com/tugui/pintos/freemap"
	"github.com/tugui/pintos/inode"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

type FS struct {
	D       disk.Disk
	Cache   *cache.Cache
	FreeMap *freemap.FreeMap
	Inodes  *inode.Engine
}

// MkFS brings up a file system on d. With format set, a fresh free-map file
// and an empty root directory inode are written; otherwise the free map is
// loaded from the device.
func MkFS(t *thread.Thread, d disk.Disk, format bool) *FS {
	fs := &FS{
		D:       d,
		Cache:   cache.MkCache(d),
		FreeMap: freemap.MkFreeMap(d.Size()),
	}
	fs.Inodes = inode.MkEngine(fs.Cache, fs.FreeMap)

	if format {
		if !fs.Inodes.Create(t, common.RootDirSector, 0, inode.Dir) {
			panic("filesys: formatting root directory failed")
		}
		if !fs.FreeMap.Create(t, fs.Inodes) {
			panic("filesys: formatting free map failed")
		}
	} else {
		if !fs.FreeMap.Open(t, fs.Inodes) {
			panic("filesys: free map unreadable")
		}
	}
	util.DPrintf(1, "filesys: up, %d sectors free\n", fs.FreeMap.NumFree())
	return fs
}

// Create allocates an inode sector and initializes a file of the given
// length there, returning the sector.
func (fs *FS) Create(t *thread.Thread, length int64, typ inode.Type) (common.Snum, bool) {
	sector, ok := fs.FreeMap.Allocate()
	if !ok {
		return 0, false
	}
	if !fs.Inodes.Create(t, sector, length, typ) {
		fs.FreeMap.Release(sector)
		return 0, false
	}
	return sector, true
}

// Open returns a handle on the file whose inode lives at sector.
func (fs *FS) Open(t *thread.Thread, sector common.Snum) *file.File {
	return file.New(fs.Inodes.Open(t, sector))
}

// Remove marks the file at sector for deletion at last close.
func (fs *FS) Remove(t *thread.Thread, sector common.Snum) {
	ino := fs.Inodes.Open(t, sector)
	if ino == nil {
		return
	}
	ino.Remove()
	ino.Close(t)
}

// Done persists the free map, flushes the cache, and stops the write-behind
// daemon.
func (fs *FS) Done(t *thread.Thread) {
	fs.FreeMap.Flush(t, fs.Inodes)
	fs.Cache.Clear()
	fs.Cache.Shutdown()
	fs.D.Barrier()
}

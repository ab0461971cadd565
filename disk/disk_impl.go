package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tugui/pintos/common"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd       int
	nsectors common.Snum
}

// NewFileDisk opens (creating if necessary) a device image at path,
// truncated to nsectors sectors.
func NewFileDisk(path string, nsectors common.Snum) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		return nil, err
	}
	if (stat.Mode&unix.S_IFREG) != 0 && uint64(stat.Size) != uint64(nsectors)*uint64(SectorSize) {
		err = unix.Ftruncate(fd, int64(nsectors)*int64(SectorSize))
		if err != nil {
			return nil, err
		}
	}
	return &fileDisk{fd: fd, nsectors: nsectors}, nil
}

func (d *fileDisk) ReadTo(a common.Snum, buf Sector) {
	if uint32(len(buf)) != SectorSize {
		panic("buffer is not sector-sized")
	}
	if a >= d.nsectors {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	_, err := unix.Pread(d.fd, buf, int64(a)*int64(SectorSize))
	if err != nil {
		panic("read failed: " + err.Error())
	}
}

func (d *fileDisk) Read(a common.Snum) Sector {
	buf := make([]byte, SectorSize)
	d.ReadTo(a, buf)
	return buf
}

func (d *fileDisk) Write(a common.Snum, v Sector) {
	if uint32(len(v)) != SectorSize {
		panic(fmt.Errorf("v is not sector-sized (%d bytes)", len(v)))
	}
	if a >= d.nsectors {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	_, err := unix.Pwrite(d.fd, v, int64(a)*int64(SectorSize))
	if err != nil {
		panic("write failed: " + err.Error())
	}
}

func (d *fileDisk) Size() common.Snum {
	return d.nsectors
}

func (d *fileDisk) Barrier() {
	err := unix.Fsync(d.fd)
	if err != nil {
		panic("file sync failed: " + err.Error())
	}
}

func (d *fileDisk) Close() {
	err := unix.Close(d.fd)
	if err != nil {
		panic(err)
	}
}

var _ Disk = (*memDisk)(nil)

type memDisk struct {
	l       *sync.RWMutex
	sectors [][]byte
}

// NewMemDisk creates an in-memory device of nsectors zeroed sectors.
func NewMemDisk(nsectors common.Snum) Disk {
	sectors := make([][]byte, nsectors)
	for i := range sectors {
		sectors[i] = make([]byte, SectorSize)
	}
	return &memDisk{l: new(sync.RWMutex), sectors: sectors}
}

func (d *memDisk) ReadTo(a common.Snum, buf Sector) {
	d.l.RLock()
	defer d.l.RUnlock()
	if a >= common.Snum(len(d.sectors)) {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	copy(buf, d.sectors[a])
}

func (d *memDisk) Read(a common.Snum) Sector {
	buf := make(Sector, SectorSize)
	d.ReadTo(a, buf)
	return buf
}

func (d *memDisk) Write(a common.Snum, v Sector) {
	if uint32(len(v)) != SectorSize {
		panic(fmt.Errorf("v is not sector-sized (%d bytes)", len(v)))
	}
	d.l.Lock()
	defer d.l.Unlock()
	if a >= common.Snum(len(d.sectors)) {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	copy(d.sectors[a], v)
}

func (d *memDisk) Size() common.Snum {
	// this never changes so we assume it's safe to run lock-free
	return common.Snum(len(d.sectors))
}

func (d *memDisk) Barrier() {}

func (d *memDisk) Close() {}

// Package disk provides access to a logical sector-based block device.
package disk

import "github.com/tugui/pintos/common"

// Sector is a 512-byte buffer.
type Sector = []byte

const SectorSize uint32 = common.SectorSize

// Disk is the block-device contract the storage core consumes. The device
// is assumed infallible; implementations panic on real I/O errors.
type Disk interface {
	// Read reads the sector at a.
	//
	// Expects a < Size().
	Read(a common.Snum) Sector

	// ReadTo reads the sector at a into b.
	ReadTo(a common.Snum, b Sector)

	// Write updates the sector at a.
	Write(a common.Snum, v Sector)

	// Size reports how big the device is, in sectors.
	Size() common.Snum

	// Barrier ensures outstanding writes are durably on the device.
	Barrier()

	// Close releases any resources used by the device.
	Close()
}

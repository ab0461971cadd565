package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
)

// Identifies an inode.
const Magic uint32 = 0x494e4f44

type Type uint32

const (
	Dir  Type = 0
	File Type = 1
)

const (
	// Sector pointers held directly in the inode.
	DirectCnt = 12
	// Total sector pointers in the inode: direct, single, double.
	PtrCnt = 14
	// Pointers per index sector.
	IndirectCnt = int64(disk.SectorSize / 4)

	singleBase = int64(DirectCnt)               // first single-indirect file sector
	doubleBase = singleBase + IndirectCnt       // first double-indirect file sector
	MaxSectors = doubleBase + IndirectCnt*IndirectCnt
	MaxLen     = MaxSectors * int64(disk.SectorSize)
)

// Byte offsets of the on-disk inode fields.
const (
	lengthOff = 4 * PtrCnt
	typeOff   = lengthOff + 4
	magicOff  = typeOff + 4
)

// diskInode is the sector-sized on-disk inode: 14 sector pointers, length,
// type, magic, zero padding. A pointer of 0 is a hole.
type diskInode struct {
	Sectors [PtrCnt]common.Snum
	Length  uint32
	Type    Type
}

func (d *diskInode) encode() []byte {
	enc := marshal.NewEnc(uint64(disk.SectorSize))
	for _, s := range d.Sectors {
		enc.PutInt32(s)
	}
	enc.PutInt32(d.Length)
	enc.PutInt32(uint32(d.Type))
	enc.PutInt32(Magic)
	return enc.Finish()
}

func decodeInode(b []byte) *diskInode {
	dec := marshal.NewDec(b)
	d := new(diskInode)
	for i := range d.Sectors {
		d.Sectors[i] = dec.GetInt32()
	}
	d.Length = dec.GetInt32()
	d.Type = Type(dec.GetInt32())
	if magic := dec.GetInt32(); magic != Magic {
		panic(fmt.Errorf("inode: bad magic %#x", magic))
	}
	return d
}

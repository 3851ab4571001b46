package voxel

type BlockID uint16

// Block is an immutable value. Two blocks are equal only when both the id and
// the packed data match.
type Block struct {
	ID   BlockID
	Data PackedData
}

// PackedData is a 64-bit payload whose fields are interpreted by the block
// type. Fields are appended low bits first.
type PackedData uint64

type PackedEncoder struct {
	data uint64
	bit  uint
}

func Pack() *PackedEncoder { return &PackedEncoder{} }

func (e *PackedEncoder) put(v uint64, bits uint) *PackedEncoder {
	if e.bit+bits > 64 {
		panic("voxel: packed data overflow")
	}
	if bits < 64 {
		v &= (1 << bits) - 1
	}
	e.data |= v << e.bit
	e.bit += bits
	return e
}

func (e *PackedEncoder) U8(v uint8) *PackedEncoder   { return e.put(uint64(v), 8) }
func (e *PackedEncoder) U16(v uint16) *PackedEncoder { return e.put(uint64(v), 16) }
func (e *PackedEncoder) U32(v uint32) *PackedEncoder { return e.put(uint64(v), 32) }
func (e *PackedEncoder) U64(v uint64) *PackedEncoder { return e.put(v, 64) }

func (e *PackedEncoder) Bool(v bool) *PackedEncoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

func (e *PackedEncoder) Build() PackedData { return PackedData(e.data) }

type PackedDecoder struct {
	data uint64
	bit  uint
}

func (d PackedData) Decode() *PackedDecoder { return &PackedDecoder{data: uint64(d)} }

func (d *PackedDecoder) take(bits uint) uint64 {
	if d.bit+bits > 64 {
		panic("voxel: packed data underflow")
	}
	v := d.data >> d.bit
	if bits < 64 {
		v &= (1 << bits) - 1
	}
	d.bit += bits
	return v
}

func (d *PackedDecoder) U8() uint8   { return uint8(d.take(8)) }
func (d *PackedDecoder) U16() uint16 { return uint16(d.take(16)) }
func (d *PackedDecoder) U32() uint32 { return uint32(d.take(32)) }
func (d *PackedDecoder) U64() uint64 { return d.take(64) }

func (d *PackedDecoder) Bool() bool {
	switch d.U8() {
	case 0:
		return false
	case 1:
		return true
	}
	panic("voxel: packed bool out of range")
}

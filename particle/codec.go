package particle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/DataDog/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

// Wire layout, little-endian:
//
//	header:   magic u32 | version u16 | flags u16 | count u32
//	particle: id i64 | x,y,z f64 | steps i64 | time f64 | arc f64 |
//	          status u8 | nblocks u32 | block i64 * nblocks |
//	          [npoints u32 | x,y,z f64 * npoints]   (FlagTrace)
//
// A length of nilLength marks a nil slice, 0 an empty one.
// With FlagCompressed everything after the header is zstd-compressed.
const (
	wireMagic   uint32 = 0x56444150 // "PADV"
	wireVersion uint16 = 2
	headerSize         = 12
	nilLength   uint32 = math.MaxUint32

	minParticleSize = 8 + 24 + 8 + 8 + 8 + 1 + 4

	FlagTrace      uint16 = 1 << 0
	FlagCompressed uint16 = 1 << 1
)

var ErrCorrupt = errors.New("particle: corrupt envelope")

// EncodeOptions controls envelope encoding.
type EncodeOptions struct {
	Compress bool
}

// Encode serializes particles into one envelope.
func Encode(ps []Particle, opts EncodeOptions) ([]byte, error) {
	var flags uint16
	for i := range ps {
		if ps[i].Trace != nil {
			flags |= FlagTrace
			break
		}
	}

	body := make([]byte, 0, len(ps)*64)
	for i := range ps {
		body = appendParticle(body, &ps[i], flags&FlagTrace != 0)
	}

	if opts.Compress {
		c, err := zstd.Compress(nil, body)
		if err != nil {
			return nil, fmt.Errorf("compressing envelope: %w", err)
		}
		body = c
		flags |= FlagCompressed
	}

	out := make([]byte, 0, headerSize+len(body))
	out = binary.LittleEndian.AppendUint32(out, wireMagic)
	out = binary.LittleEndian.AppendUint16(out, wireVersion)
	out = binary.LittleEndian.AppendUint16(out, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ps)))
	return append(out, body...), nil
}

func appendVec(b []byte, v r3.Vec) []byte {
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v.X))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Y))
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Z))
}

func appendParticle(b []byte, p *Particle, trace bool) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(p.ID))
	b = appendVec(b, p.Pos)
	b = binary.LittleEndian.AppendUint64(b, uint64(int64(p.Steps)))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.Time))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.ArcLength))
	b = append(b, byte(p.Status))
	b = appendLength(b, p.BlockIDs == nil, len(p.BlockIDs))
	for _, id := range p.BlockIDs {
		b = binary.LittleEndian.AppendUint64(b, uint64(int64(id)))
	}
	if trace {
		b = appendLength(b, p.Trace == nil, len(p.Trace))
		for _, v := range p.Trace {
			b = appendVec(b, v)
		}
	}
	return b
}

func appendLength(b []byte, isNil bool, n int) []byte {
	if isNil {
		return binary.LittleEndian.AppendUint32(b, nilLength)
	}
	return binary.LittleEndian.AppendUint32(b, uint32(n))
}

// Decode parses an envelope produced by Encode.
func Decode(data []byte) ([]Particle, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(data))
	}
	if m := binary.LittleEndian.Uint32(data); m != wireMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, m)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != wireVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	flags := binary.LittleEndian.Uint16(data[6:])
	count := int(binary.LittleEndian.Uint32(data[8:]))

	body := data[headerSize:]
	if flags&FlagCompressed != 0 {
		d, err := zstd.Decompress(nil, body)
		if err != nil {
			return nil, fmt.Errorf("decompressing envelope: %w", err)
		}
		body = d
	}

	if count*minParticleSize > len(body) {
		return nil, fmt.Errorf("%w: %d particles in %d bytes", ErrCorrupt, count, len(body))
	}

	r := reader{buf: body}
	ps := make([]Particle, count)
	for i := range ps {
		r.particle(&ps[i], flags&FlagTrace != 0)
		if r.err != nil {
			return nil, fmt.Errorf("%w: particle %d of %d: %v", ErrCorrupt, i, count, r.err)
		}
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	return ps, nil
}

type reader struct {
	buf []byte
	err error
}

var errShort = errors.New("unexpected end of data")

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = errShort
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) vec() r3.Vec { return r3.Vec{X: r.f64(), Y: r.f64(), Z: r.f64()} }

// length reads a u32 element count and checks it against the bytes left.
// It returns -1 for a nil slice.
func (r *reader) length(elemSize int) int {
	raw := r.u32()
	if r.err != nil {
		return 0
	}
	if raw == nilLength {
		return -1
	}
	n := int(raw)
	if n*elemSize > len(r.buf) {
		r.err = errShort
		return 0
	}
	return n
}

func (r *reader) particle(p *Particle, trace bool) {
	p.ID = int64(r.u64())
	p.Pos = r.vec()
	p.Steps = int(int64(r.u64()))
	p.Time = r.f64()
	p.ArcLength = r.f64()
	if b := r.take(1); b != nil {
		p.Status = Status(b[0])
	}
	if n := r.length(8); n >= 0 {
		p.BlockIDs = make([]int, n)
		for i := range p.BlockIDs {
			p.BlockIDs[i] = int(int64(r.u64()))
		}
	}
	if !trace {
		return
	}
	if n := r.length(24); n >= 0 {
		p.Trace = make([]r3.Vec, n)
		for i := range p.Trace {
			p.Trace[i] = r.vec()
		}
	}
}

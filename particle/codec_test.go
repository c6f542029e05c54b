package particle

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func sampleParticles() []Particle {
	return []Particle{
		{
			ID:        1,
			Pos:       r3.Vec{X: 0.1, Y: 0.2, Z: 0.3},
			Steps:     12,
			Time:      1.2,
			ArcLength: 1.25,
			Status:    Escaped,
			BlockIDs:  []int{1, 4},
		},
		{
			ID:        -7,
			Pos:       r3.Vec{X: math.Inf(1), Y: -0, Z: math.SmallestNonzeroFloat64},
			Steps:     0,
			Status:    Active,
			BlockIDs:  []int{0},
		},
		{
			ID:     1 << 40,
			Pos:    r3.Vec{X: 2, Y: 2, Z: 2},
			Status: Unowned,
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	withTrace := sampleParticles()
	withTrace[0].Trace = []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 0.05, Y: 0.1, Z: 0.15}, {X: 0.1, Y: 0.2, Z: 0.3}}

	// Empty and nil slices are distinct on the wire.
	emptySlices := []Particle{
		{ID: 1, BlockIDs: []int{}, Trace: []r3.Vec{}},
		{ID: 2},
		{ID: 3, BlockIDs: []int{2}, Trace: []r3.Vec{}},
	}

	tests := []struct {
		name     string
		ps       []Particle
		compress bool
	}{
		{"empty", []Particle{}, false},
		{"plain", sampleParticles(), false},
		{"compressed", sampleParticles(), true},
		{"trace", withTrace, false},
		{"trace compressed", withTrace, true},
		{"empty slices", emptySlices, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.ps, EncodeOptions{Compress: tt.compress})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.ps) {
				t.Errorf("round trip = %+v, want %+v", got, tt.ps)
			}
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	good, err := Encode(sampleParticles(), EncodeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	badMagic := append([]byte(nil), good...)
	badMagic[0] ^= 0xff

	badCount := append([]byte(nil), good...)
	badCount[8] = 0xff
	badCount[9] = 0xff

	// nblocks of the first particle claims more ids than remain.
	badBlocks := append([]byte(nil), good...)
	badBlocks[headerSize+minParticleSize-4] = 0xfe

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"short header", good[:5]},
		{"bad magic", badMagic},
		{"truncated body", good[:len(good)-3]},
		{"trailing bytes", append(append([]byte(nil), good...), 0, 0)},
		{"huge count", badCount},
		{"huge block count", badBlocks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestCompressionShrinksRepetitiveEnvelopes(t *testing.T) {
	ps := make([]Particle, 500)
	for i := range ps {
		ps[i] = Particle{ID: int64(i), Pos: r3.Vec{X: 1, Y: 1, Z: 1}, BlockIDs: []int{3}}
	}
	plain, err := Encode(ps, EncodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	packed, err := Encode(ps, EncodeOptions{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(packed) >= len(plain) {
		t.Errorf("compressed size %d, want < %d", len(packed), len(plain))
	}
}

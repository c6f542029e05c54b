// Decompose writes a block decomposition file for domain.file.
//
// Usage: go run ./cmd/decompose -blocks 4,2,1 -ranks 3 > blocks.gcfg
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/field"
)

func main() {
	blocks := flag.String("blocks", "2,1,1", "Blocks per axis as nx,ny,nz")
	lower := flag.String("min", "0,0,0", "Domain minimum corner as x,y,z")
	upper := flag.String("max", "2,1,1", "Domain maximum corner as x,y,z")
	ranks := flag.Int("ranks", 2, "Number of ranks")
	assign := flag.String("assign", field.RoundRobin, "Rank assignment: round_robin or contiguous")
	out := flag.String("o", "", "Output file (empty = stdout)")
	flag.Parse()

	n, err := parseInts(*blocks)
	if err != nil {
		log.Fatalf("bad -blocks: %v", err)
	}
	lo, err := parseVec(*lower)
	if err != nil {
		log.Fatalf("bad -min: %v", err)
	}
	hi, err := parseVec(*upper)
	if err != nil {
		log.Fatalf("bad -max: %v", err)
	}

	pieces, err := field.Grid(r3.Box{Min: lo, Max: hi}, n[0], n[1], n[2], *ranks, *assign)
	if err != nil {
		log.Fatal(err)
	}
	// Validate the result the way a run would load it.
	if _, err := field.BuildBounds(pieces); err != nil {
		log.Fatal(err)
	}
	text := field.WriteDecomposition(pieces)

	if *out == "" {
		fmt.Print(text)
		return
	}
	if err := os.WriteFile(*out, []byte(text), 0644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
}

func parseFloats(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("want 3 comma-separated values, got %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

func parseVec(s string) (r3.Vec, error) {
	v, err := parseFloats(s)
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, err
}

func parseInts(s string) ([3]int, error) {
	var n [3]int
	v, err := parseFloats(s)
	if err != nil {
		return n, err
	}
	for i, f := range v {
		if f != float64(int(f)) {
			return n, fmt.Errorf("%v is not an integer", f)
		}
		n[i] = int(f)
	}
	return n, nil
}

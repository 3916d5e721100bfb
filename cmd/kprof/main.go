// Command kprof summarizes a pprof profile captured from cmd/kernel (via
// net/http/pprof or runtime/pprof's -cpuprofile) as a flat, per-function
// sample table — a debug/profiling tool the teacher repo's go.mod already
// carries github.com/google/pprof and github.com/ianlancetaylor/demangle
// for, but never exercises in the filtered pack; kprof is where this repo
// gives both dependencies a concrete job: google/pprof/profile parses the
// protobuf profile, demangle normalizes each function's symbol name
// (harmless on the plain Go names this kernel produces, but the same
// filter a cross-language profile would need).
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/pprof/profile"
	"github.com/ianlancetaylor/demangle"
)

type funcSamples struct {
	name    string
	count   int64
	samples int
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: kprof <profile.pb.gz>\n")
		os.Exit(1)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "kprof: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	prof, err := profile.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kprof: parsing profile: %v\n", err)
		os.Exit(1)
	}

	valueIdx := 0
	for i, st := range prof.SampleType {
		if st.Type == "samples" || st.Type == "cpu" {
			valueIdx = i
			break
		}
	}

	totals := make(map[string]*funcSamples)
	for _, s := range prof.Sample {
		if valueIdx >= len(s.Value) {
			continue
		}
		v := s.Value[valueIdx]
		for _, loc := range s.Location {
			for _, line := range loc.Line {
				if line.Function == nil {
					continue
				}
				name := demangle.Filter(line.Function.Name)
				fs, ok := totals[name]
				if !ok {
					fs = &funcSamples{name: name}
					totals[name] = fs
				}
				fs.count += v
				fs.samples++
			}
		}
	}

	var rows []*funcSamples
	for _, fs := range totals {
		rows = append(rows, fs)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].count > rows[j].count })

	fmt.Printf("%-10s %-8s %s\n", "VALUE", "SAMPLES", "FUNCTION")
	for _, fs := range rows {
		fmt.Printf("%-10d %-8d %s\n", fs.count, fs.samples, fs.name)
	}
}

// This file summarizes and prints the timing of a run.

package main

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// A Summary describes a sample of cycle times.
type Summary struct {
	Count        int
	Mean, StdDev float64
	Min, Max     float64
}

// Summarize computes summary statistics of xs.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(xs), Min: floats.Min(xs), Max: floats.Max(xs)}
	if len(xs) == 1 {
		s.Mean = xs[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	return s
}

// outputReport pretty-prints per-rank and aggregate timings and returns the
// total number of bad ghost cells.
func outputReport(w io.Writer, p *Parameters, results []RankResult) int {
	fmt.Fprintf(w, "Halo exchange: backend %s, policy %s, %d rank(s), %dx%dx%d cells + %d ghost, %d var(s)\n",
		p.Backend, p.Policy, len(results), p.Grid.NX, p.Grid.NY, p.Grid.NZ, p.Grid.Ghost, p.Vars)

	// Output one line per rank.
	var all []float64
	bad := 0
	for _, res := range results {
		s := Summarize(res.CycleSeconds)
		mark := ' '
		if res.BadGhosts > 0 {
			mark = 'X'
		}
		fmt.Fprintf(w, "    rank %3d  mean %10.6fs  sd %10.6fs  min %10.6fs  max %10.6fs  %8.1f MB/s %c\n",
			res.Rank, s.Mean, s.StdDev, s.Min, s.Max, bandwidth(res.BytesPerCycle, s.Mean), mark)
		all = append(all, res.CycleSeconds...)
		bad += res.BadGhosts
	}

	// Output the aggregate over every rank's cycles.
	s := Summarize(all)
	fmt.Fprintf(w, "All ranks: %d cycles, mean %.6fs, sd %.6fs, min %.6fs, max %.6fs\n",
		s.Count, s.Mean, s.StdDev, s.Min, s.Max)
	if bad > 0 {
		fmt.Fprintf(w, "Verification FAILED: %d ghost cell(s) wrong\n", bad)
	} else {
		fmt.Fprintln(w, "Verification passed")
	}
	return bad
}

// bandwidth returns megabytes per second.
func bandwidth(nbytes int, secs float64) float64 {
	if secs <= 0 {
		return 0
	}
	return float64(nbytes) / secs / 1e6
}

// Package report names the clusters of a result relative to an optional
// initial partition and writes the human-facing reports.
package report

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/io/csv"
)

// Event describes where a cluster came from.
type Event int

const (
	// Created clusters have no named predecessor.
	Created Event = iota
	// Kept clusters continue a single initial cluster that was not split.
	Kept
	// Merged clusters draw members from several initial clusters.
	Merged
	// Split clusters are one piece of an initial cluster spread over
	// several result clusters.
	Split
	// Renamed clusters are a secondary piece of an initial cluster that
	// also absorbed members of other clusters, so they get a new name.
	Renamed
)

func (e Event) String() string {
	switch e {
	case Created:
		return "created"
	case Kept:
		return "kept"
	case Merged:
		return "merged"
	case Split:
		return "split"
	case Renamed:
		return "renamed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Cluster is one named cluster of a report.
type Cluster struct {
	Name string
	// Members holds the message ids in ascending order.
	Members []int
	Score   float64
	Event   Event
	// Sources names the initial clusters the members came from, largest
	// contribution first.
	Sources []string
}

// Report is a named view of a clustering result.
type Report struct {
	Clusters []Cluster
	Score    float64
	BestRun  int
	Runs     []clustering.RunSummary
}

// Build names the non-empty clusters of res. Rows are reported by
// res.IDs, or by row index when res has no ids. initial may be nil.
//
// Every initial cluster's name goes to the result cluster holding most of
// its members. Other pieces of the same initial cluster are named
// "<name>.<k>". Clusters without a named source are called "cluster-<k>".
func Build(res *clustering.Result, initial *csv.Partition) (*Report, error) {
	n := len(res.Labels)
	if res.IDs != nil && len(res.IDs) != n {
		return nil, fmt.Errorf("result has %d ids for %d rows", len(res.IDs), n)
	}
	if initial != nil && len(initial.Labels) != n {
		return nil, fmt.Errorf("initial partition has %d labels for %d rows", len(initial.Labels), n)
	}
	if n == 0 {
		return nil, errors.New("empty result")
	}

	id := func(row int) int {
		if res.IDs == nil {
			return row
		}
		return res.IDs[row]
	}

	overlaps := make([]map[int]int, len(res.Clusters))
	spread := make(map[int]int)
	for c, members := range res.Clusters {
		overlaps[c] = make(map[int]int)
		if initial == nil {
			continue
		}
		for _, row := range members {
			l := initial.Labels[row]
			if l == initial.Unassigned {
				continue
			}
			if overlaps[c][l] == 0 {
				spread[l]++
			}
			overlaps[c][l]++
		}
	}

	// Clusters claim names in order of their largest contribution.
	order := make([]int, 0, len(res.Clusters))
	sources := make([][]int, len(res.Clusters))
	for c, members := range res.Clusters {
		if len(members) == 0 {
			continue
		}
		order = append(order, c)
		for l := range overlaps[c] {
			sources[c] = append(sources[c], l)
		}
		slices.SortFunc(sources[c], func(a, b int) int {
			return cmp.Or(cmp.Compare(overlaps[c][b], overlaps[c][a]), cmp.Compare(a, b))
		})
	}
	dominant := func(c int) int {
		if len(sources[c]) == 0 {
			return 0
		}
		return overlaps[c][sources[c][0]]
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(dominant(b), dominant(a))
	})

	taken := make(map[string]bool)
	if initial != nil {
		for _, name := range initial.Names {
			taken[name] = true
		}
	}
	claimed := make(map[int]bool)
	pieces := make(map[int]int)
	fresh := 0
	freshName := func(prefix string) string {
		for {
			fresh++
			name := fmt.Sprintf("%s-%d", prefix, fresh)
			if !taken[name] {
				taken[name] = true
				return name
			}
		}
	}

	rep := &Report{Score: res.Score, BestRun: res.BestRun, Runs: res.Runs}
	for _, c := range order {
		cl := Cluster{Score: res.ClusterScores[c]}
		for _, row := range res.Clusters[c] {
			cl.Members = append(cl.Members, id(row))
		}
		slices.Sort(cl.Members)
		for _, l := range sources[c] {
			cl.Sources = append(cl.Sources, initial.Names[l])
		}

		switch {
		case len(sources[c]) == 0:
			cl.Name, cl.Event = freshName("cluster"), Created
		case !claimed[sources[c][0]]:
			l := sources[c][0]
			claimed[l] = true
			cl.Name = initial.Names[l]
			switch {
			case len(sources[c]) > 1:
				cl.Event = Merged
			case spread[l] > 1:
				cl.Event = Split
			default:
				cl.Event = Kept
			}
		default:
			l := sources[c][0]
			for {
				pieces[l]++
				cl.Name = fmt.Sprintf("%s.%d", initial.Names[l], pieces[l])
				if !taken[cl.Name] {
					taken[cl.Name] = true
					break
				}
			}
			cl.Event = Split
			if len(sources[c]) > 1 {
				cl.Event = Renamed
			}
		}

		rep.Clusters = append(rep.Clusters, cl)
	}

	slices.SortFunc(rep.Clusters, func(a, b Cluster) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return rep, nil
}

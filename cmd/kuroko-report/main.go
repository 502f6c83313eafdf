package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"kuroko/internal/experience"
	"kuroko/internal/model"
	"kuroko/internal/search"
	"kuroko/internal/util"
)

func main() {
	expPath := flag.String("experience", "data/experience.log", "experience log path")
	modelDir := flag.String("model", "", "persisted model directory")
	searchDir := flag.String("search", "", "search discovery log directory")
	flag.Parse()

	if err := reportExperience(*expPath); err != nil {
		fmt.Fprintf(os.Stderr, "experience report failed: %v\n", err)
		os.Exit(1)
	}
	if *modelDir != "" {
		if err := reportModel(*modelDir); err != nil {
			fmt.Fprintf(os.Stderr, "model report failed: %v\n", err)
			os.Exit(1)
		}
	}
	if *searchDir != "" {
		if err := reportSearch(*searchDir); err != nil {
			fmt.Fprintf(os.Stderr, "search report failed: %v\n", err)
			os.Exit(1)
		}
	}
}

func reportExperience(path string) error {
	store, err := experience.Open(path)
	if err != nil {
		return err
	}
	records, err := store.ReadAll()
	if err != nil {
		return err
	}
	fmt.Printf("experience: %d record(s) in %s\n", len(records), path)
	if len(records) == 0 {
		return nil
	}
	minR, maxR, sum := math.Inf(1), math.Inf(-1), 0.0
	digests := make(map[string]int)
	for _, rec := range records {
		minR = math.Min(minR, rec.Reward)
		maxR = math.Max(maxR, rec.Reward)
		sum += rec.Reward
		if rec.SQLDigest != "" {
			digests[rec.SQLDigest]++
		}
	}
	fmt.Printf("  reward min=%.6g mean=%.6g max=%.6g\n", minR, sum/float64(len(records)), maxR)
	fmt.Printf("  distinct digests: %d\n", len(digests))
	return nil
}

func reportModel(dir string) error {
	h, err := model.LoadDir(dir)
	if err != nil {
		return err
	}
	fmt.Printf("model: version=%s dir=%s\n", h.Version, dir)
	fmt.Printf("  trained_at=%s samples=%d width=%d\n",
		h.Meta.TrainedAt.Format("2006-01-02 15:04:05"), h.Meta.SampleCount, h.Meta.Width)
	return nil
}

func reportSearch(dir string) error {
	log, err := search.OpenLog(dir)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(log, "search log")

	type stats struct {
		count int
		best  float64
	}
	perQuery := make(map[string]*stats)
	err = log.Each(func(queryID string, disc search.Discovery) error {
		st, ok := perQuery[queryID]
		if !ok {
			st = &stats{best: math.Inf(1)}
			perQuery[queryID] = st
		}
		st.count++
		st.best = math.Min(st.best, disc.Score)
		return nil
	})
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(perQuery))
	for id := range perQuery {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Printf("search: %d quer%s in %s\n", len(ids), plural(len(ids), "y", "ies"), dir)
	for _, id := range ids {
		st := perQuery[id]
		fmt.Printf("  %s: %d discoveries, best score %.6g\n", id, st.count, st.best)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"kuroko/internal/plan"
	"kuroko/internal/replay"
)

func main() {
	dsn := flag.String("dsn", "", "database DSN")
	workload := flag.String("workload", "", "path to workload file (JSON lines)")
	server := flag.String("server", "", "advisor address; rewards go over the wire when set")
	expPath := flag.String("experience", "data/experience.log", "experience log path when no advisor address is set")
	reps := flag.Int("repetitions", 1, "executions per workload entry")
	fit := flag.String("fit", "", "after replay, train a model into this directory")
	flag.Parse()

	if *workload == "" || (*dsn == "" && *fit == "") {
		fmt.Fprintln(os.Stderr, "workload and dsn are required")
		flag.Usage()
		os.Exit(1)
	}

	if *dsn != "" {
		opts := replay.Options{
			DSN:            *dsn,
			WorkloadPath:   *workload,
			ServerAddr:     *server,
			ExperiencePath: *expPath,
			Repetitions:    *reps,
		}
		if err := replay.Run(context.Background(), opts); err != nil {
			fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *fit != "" {
		if err := replay.Train(*expPath, *fit, plan.TreeFeaturizer{}); err != nil {
			fmt.Fprintf(os.Stderr, "train failed: %v\n", err)
			os.Exit(1)
		}
	}
}

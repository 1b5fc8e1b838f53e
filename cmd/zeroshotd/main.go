// cmd/zeroshotd is the minimal process entry point for the core: it loads
// a cluster configuration file, starts one cluster, and waits for it to
// reach a terminal state. Everything else — a terminal UI, VCS
// wrappers, provider CLI adapters, a scheduled-task daemon, richer CLI
// command plumbing — is a collaborator built on top of internal/orchestrator,
// not this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/orchestrator"
	"github.com/zeroshot-run/zeroshot/internal/taskrunner"
)

func main() {
	var (
		storageDir = flag.String("storage-dir", "", "override the storage directory (default ~/.zeroshot)")
		configPath = flag.String("config", "", "path to a cluster configuration JSON file")
		input      = flag.String("input", "", "the issue/task text seeded as ISSUE_OPENED")
		logLevel   = flag.String("log-level", "info", "debug, info, warn, or error")
	)
	flag.Parse()

	logger := logging.New(os.Stderr, *logLevel)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "zeroshotd: --config is required")
		os.Exit(2)
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		fatal(logger, "read config", err)
	}
	cfg, err := cluster.Parse(data)
	if err != nil {
		fatal(logger, "parse config", err)
	}

	ctx := context.Background()
	o, err := orchestrator.Create(ctx, *storageDir, logger, func(cluster.AgentConfig) taskrunner.Runner {
		return taskrunner.NewMockRunner()
	})
	if err != nil {
		fatal(logger, "create orchestrator", err)
	}

	id, err := o.Start(ctx, cfg, *input)
	if err != nil {
		fatal(logger, "start cluster", err)
	}
	logger.Info("cluster started", "cluster_id", id)

	for {
		status, err := o.GetStatus(id)
		if err != nil {
			fatal(logger, "get status", err)
		}
		if status.Cluster.State == cluster.StateStopped || status.Cluster.State == cluster.StateFailed {
			logger.Info("cluster finished", "cluster_id", id, "state", string(status.Cluster.State))
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	md, err := o.Export(ctx, id, "markdown")
	if err != nil {
		fatal(logger, "export cluster", err)
	}
	fmt.Println(md)
}

func fatal(logger logging.Logger, op string, err error) {
	logger.Error("zeroshotd: "+op, err)
	os.Exit(1)
}


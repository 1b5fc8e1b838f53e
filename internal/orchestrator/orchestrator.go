package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zeroshot-run/zeroshot/internal/agentwrapper"
	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/config"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/logbook"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
	"github.com/zeroshot-run/zeroshot/internal/snapshot"
	"github.com/zeroshot-run/zeroshot/internal/taskrunner"
	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// runtime is everything the Orchestrator keeps in memory for one running
// cluster; entries are removed once a cluster reaches a terminal state
// and its resources have been released.
type runtime struct {
	cluster     *cluster.Cluster
	ledger      *ledger.Ledger
	bus         *bus.MessageBus
	snapshotter *snapshot.Snapshotter
	logbook     *logbook.Logbook
	wrappers    map[string]*agentwrapper.Wrapper
	dispatch    *errgroup.Group
	unsubscribe bus.Unsubscribe
	cancel      context.CancelFunc
}

// maxConcurrentDispatch bounds how many agent executions one cluster may
// have in flight at once; it exists to cap runaway fan-out, not to limit
// normal operation (each wrapper only ever runs one trigger at a time on
// its own, so this is rarely the binding constraint).
const maxConcurrentDispatch = 64

// RunnerFactory builds the TaskRunner used by every agent in a cluster.
// Concrete provider adapters live outside the core; tests and the CLI
// default to a taskrunner.ProcessRunner or taskrunner.MockRunner.
type RunnerFactory func(agent cluster.AgentConfig) taskrunner.Runner

// Orchestrator owns every cluster's lifecycle within one storage
// directory.
type Orchestrator struct {
	cfg      *config.Config
	registry *registry
	logger   logging.Logger
	runners  RunnerFactory

	mu       sync.Mutex
	runtimes map[string]*runtime
}

// Create opens (or initializes) the orchestrator's storage directory,
// reopens the ledger of every persisted cluster still marked running,
// and replays each one's
// StateSnapshotter bootstrap so in-memory state matches what was durably
// recorded before the process last exited.
func Create(ctx context.Context, storageDirOverride string, logger logging.Logger, runners RunnerFactory) (*Orchestrator, error) {
	cfg, err := config.Load(storageDirOverride)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if runners == nil {
		runners = func(cluster.AgentConfig) taskrunner.Runner { return taskrunner.NewMockRunner() }
	}

	reg, err := openRegistry(cfg.RegistryPath())
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{cfg: cfg, registry: reg, logger: logger, runners: runners, runtimes: map[string]*runtime{}}

	for _, c := range reg.list() {
		if c.State != cluster.StateRunning {
			continue
		}
		if _, err := o.attach(ctx, c); err != nil {
			o.logger.Error("orchestrator: resume cluster", err, "cluster_id", c.ID)
		}
	}
	return o, nil
}

// Start creates a brand new cluster from cfg, seeds it with an
// ISSUE_OPENED message built from input, and returns its id.
func (o *Orchestrator) Start(ctx context.Context, cfg cluster.Config, input string) (string, error) {
	if report := cluster.Validate(cfg); len(report.Errors) > 0 {
		return "", zerrors.NewConfigError("cluster config", fmt.Errorf("%v", report.Errors))
	}

	c := &cluster.Cluster{
		ID:        uuid.NewString(),
		Config:    cfg,
		State:     cluster.StateInitializing,
		CreatedAt: message.NowMillis(),
	}
	if err := o.registry.put(c); err != nil {
		return "", err
	}

	rt, err := o.attach(ctx, c)
	if err != nil {
		return "", err
	}

	c.State = cluster.StateRunning
	if err := o.registry.put(c); err != nil {
		return "", err
	}

	if _, err := rt.bus.Publish(ctx, message.Message{
		Topic:   message.TopicIssueOpened,
		Sender:  message.SenderUser,
		Content: message.Content{Text: input},
	}); err != nil {
		return "", err
	}
	return c.ID, nil
}

// attach opens the durable resources (ledger, bus, snapshotter, agent
// wrappers) for an existing cluster record and registers them in memory.
func (o *Orchestrator) attach(ctx context.Context, c *cluster.Cluster) (*runtime, error) {
	l, err := ledger.Open(ctx, o.cfg.DatabasePath(c.ID), c.ID)
	if err != nil {
		return nil, err
	}
	b := bus.New(l, c.ID, o.logger.With("cluster_id", c.ID))
	snap := snapshot.New(b, c.ID, o.logger)
	if err := snap.Start(ctx); err != nil {
		l.Close()
		return nil, err
	}

	book, err := logbook.New(o.cfg.LogPath(c.ID))
	if err != nil {
		o.logger.Warn("orchestrator: open logbook failed, continuing without one", "cluster_id", c.ID, "error", err.Error())
	}
	book.Info("cluster %s attached (state=%s)", c.ID, c.State)

	runCtx, cancel := context.WithCancel(ctx)
	dispatch := &errgroup.Group{}
	dispatch.SetLimit(maxConcurrentDispatch)
	rt := &runtime{cluster: c, ledger: l, bus: b, snapshotter: snap, logbook: book, wrappers: map[string]*agentwrapper.Wrapper{}, dispatch: dispatch, cancel: cancel}

	stopOnce := sync.Once{}
	onStop := func(reason string) {
		stopOnce.Do(func() {
			book.Info("cluster %s stopping: %s", c.ID, reason)
			o.completeCluster(context.Background(), c, reason)
		})
	}

	for _, agentCfg := range c.Config.Agents {
		if agentCfg.IsSubcluster() {
			continue // subcluster agents are skipped, not instantiated; see DESIGN.md
		}
		w := agentwrapper.New(agentCfg, b, agentwrapper.Options{
			ClusterStart: c.CreatedAt,
			Runner:       o.runners(agentCfg),
			Logger:       o.logger.With("cluster_id", c.ID),
			OnStop:       onStop,
		})
		rt.wrappers[agentCfg.ID] = w
	}

	// Each wrapper's HandleMessage runs in its own detached goroutine so
	// this callback returns to the publisher without waiting for agent
	// execution. Once maxConcurrentDispatch goroutines are in flight,
	// dispatch.Go (and so Publish) blocks until one of them finishes.
	rt.unsubscribe = b.Subscribe(func(msg message.Message) {
		book.Info("dispatching %s from %s to %d agent(s)", msg.Topic, msg.Sender, len(rt.wrappers))
		for _, w := range rt.wrappers {
			w := w
			rt.dispatch.Go(func() error {
				w.HandleMessage(runCtx, msg)
				return nil
			})
		}
	})

	o.mu.Lock()
	o.runtimes[c.ID] = rt
	o.mu.Unlock()
	return rt, nil
}

func (o *Orchestrator) completeCluster(ctx context.Context, c *cluster.Cluster, reason string) {
	c.State = cluster.StateStopped
	if err := o.registry.put(c); err != nil {
		o.logger.Error("orchestrator: persist stopped cluster", err, "cluster_id", c.ID)
	}
	o.logger.Info("cluster stopped", "cluster_id", c.ID, "reason", reason)
	o.detach(c.ID, false)
}

// detach tears down a cluster's in-memory resources. keepLedgerOpen skips
// closing the ledger handle; Stop, Kill, and cluster completion all pass
// false, so each of them closes it.
func (o *Orchestrator) detach(id string, keepLedgerOpen bool) {
	o.mu.Lock()
	rt, ok := o.runtimes[id]
	if ok {
		delete(o.runtimes, id)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	rt.logbook.Info("cluster %s detached", id)
	if rt.unsubscribe != nil {
		rt.unsubscribe()
	}
	rt.cancel()
	rt.snapshotter.Stop()
	if !keepLedgerOpen {
		rt.ledger.Close()
	}
}

// Stop gracefully halts a running cluster: it stops delivering new
// messages to agent wrappers and marks the cluster stopped, but leaves
// the ledger and registry record intact for export or resume.
func (o *Orchestrator) Stop(id string) error {
	c, ok := o.registry.get(id)
	if !ok {
		return zerrors.NewStorageError("stop", fmt.Errorf("unknown cluster %s", id))
	}
	c.State = cluster.StateStopped
	if err := o.registry.put(c); err != nil {
		return err
	}
	o.detach(id, false)
	return nil
}

// Kill immediately tears down a cluster's resources without waiting for
// any agent mid-cycle to finish; the cluster is marked failed.
func (o *Orchestrator) Kill(id string) error {
	c, ok := o.registry.get(id)
	if !ok {
		return zerrors.NewStorageError("kill", fmt.Errorf("unknown cluster %s", id))
	}
	c.State = cluster.StateFailed
	if err := o.registry.put(c); err != nil {
		return err
	}
	o.detach(id, false)
	return nil
}

// GetStatus reports a cluster's record plus each of its agents' current
// runtime state.
type Status struct {
	Cluster cluster.Cluster
	Agents  []cluster.Agent
}

func (o *Orchestrator) GetStatus(id string) (Status, error) {
	c, ok := o.registry.get(id)
	if !ok {
		return Status{}, zerrors.NewStorageError("get status", fmt.Errorf("unknown cluster %s", id))
	}
	status := Status{Cluster: *c}

	o.mu.Lock()
	rt, running := o.runtimes[id]
	o.mu.Unlock()
	if running {
		for _, w := range rt.wrappers {
			status.Agents = append(status.Agents, w.Snapshot())
		}
	}
	return status, nil
}

// ListClusters returns every known cluster record, running or not.
func (o *Orchestrator) ListClusters() []cluster.Cluster {
	clusters := o.registry.list()
	out := make([]cluster.Cluster, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, *c)
	}
	return out
}

// WatchCallback is invoked once per newly observed cluster.
type WatchCallback func(cluster.Cluster)

// WatchForNewClusters polls the registry at the given interval, invoking
// cb for every cluster id not previously seen, until ctx is canceled.
func (o *Orchestrator) WatchForNewClusters(ctx context.Context, cb WatchCallback, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	seen := map[string]struct{}{}
	for _, c := range o.registry.list() {
		seen[c.ID] = struct{}{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range o.registry.list() {
				if _, ok := seen[c.ID]; ok {
					continue
				}
				seen[c.ID] = struct{}{}
				cb(*c)
			}
		}
	}
}

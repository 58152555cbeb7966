// Command ddht demonstrates the lookup task engine end to end against the
// in-memory memrpc reference server: it seeds a synthetic neighborhood,
// runs one iterative lookup, and prints what it converged on. It exists to
// give the library stack (CLI flags, structured logging, a metrics
// endpoint) somewhere to run from; it is not a real DHT client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/kadcore/dhtengine/config"
	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/logger"
	"github.com/kadcore/dhtengine/lookup"
	"github.com/kadcore/dhtengine/manager"
	"github.com/kadcore/dhtengine/memrpc"
	"github.com/kadcore/dhtengine/metrics"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/status"
	"github.com/kadcore/dhtengine/task"
	"github.com/kadcore/dhtengine/visited"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	app := cli.NewApp()
	app.Name = "ddht"
	app.Usage = "run one iterative DHT lookup against a synthetic in-memory network"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "mode", Value: "find_node", Usage: "find_node, get_peers, announce, or ping"},
		cli.StringFlag{Name: "target", Value: "", Usage: "40-hex-char target key (random if unset)"},
		cli.IntFlag{Name: "seed-nodes", Value: 16, Usage: "number of synthetic neighbors to seed the lookup with"},
		cli.IntFlag{Name: "k", Value: config.Default().K, Usage: "convergence width"},
		cli.IntFlag{Name: "alpha", Value: config.Default().Alpha, Usage: "per-tick fan-out"},
		cli.IntFlag{Name: "max-concurrent-requests", Value: config.Default().MaxConcurrentRequests, Usage: "per-task RPC admission cap"},
		cli.StringFlag{Name: "metrics-addr", Value: "", Usage: "if set, serve Prometheus metrics + status JSON on this address"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ddht:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.K = c.Int("k")
	cfg.Alpha = c.Int("alpha")
	cfg.MaxConcurrentRequests = c.Int("max-concurrent-requests")
	if err := cfg.Validate(); err != nil {
		return err
	}

	printer := logger.NewTextPrinter(os.Stderr)
	log := logger.NewConsoleLogger(printer, os.Exit)
	if c.Bool("debug") {
		log.SetLevel(logger.DEBUG)
	} else {
		log.SetLevel(logger.INFO)
	}

	target := kad.RandomKey()
	if s := c.String("target"); s != "" {
		k, err := kad.ParseKey(s)
		if err != nil {
			return fmt.Errorf("bad --target: %w", err)
		}
		target = k
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	server := memrpc.New(memrpc.Config{
		MaxConcurrent: 4 * cfg.MaxConcurrentRequests,
		SoftDeadline:  cfg.SoftDeadline,
		HardDeadline:  cfg.HardDeadline,
	}, memrpc.Options{
		Log:       log,
		Responder: syntheticResponder(),
	})

	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/status.json", status.Handle)
		go func() {
			log.Info("serving metrics and status on http://%s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics server stopped: %s", err)
			}
		}()
	}

	mgr := manager.New(cfg.MaxConcurrentTasks, manager.Options{Log: log})

	policy, info := buildPolicy(c.String("mode"), target, cfg)

	id := mgr.NextTaskID()
	_, setStatus, done := status.AddSimpleItem(context.Background(), fmt.Sprintf("task-%d-%s", id, target))

	tk, err := task.New(id, target, info, server, server, policy, cfg.MaxConcurrentRequests, visited.New(), task.Options{
		Log:       log,
		Rec:       collector.ForTask(fmt.Sprintf("%d", id), info),
		SetStatus: setStatus,
		Done:      done,
	})
	if err != nil {
		return err
	}

	for i := 0; i < c.Int("seed-nodes"); i++ {
		tk.AddToTodo(randomEntry())
	}

	finished := make(chan struct{})
	tk.AddListener(taskFinishedFunc(func(*task.Task) { close(finished) }))

	start := time.Now()
	mgr.Enqueue(tk)

	select {
	case <-finished:
	case <-time.After(30 * time.Second):
		log.Error("lookup did not converge within 30s, killing")
		tk.Kill()
		<-finished
	}

	elapsed := time.Since(start)
	log.Notice("lookup %s converged in %s: sent=%d recv=%d failed=%d", info, elapsed, tk.Sent(), tk.Recv(), tk.Failed())
	printResults(log, policy)

	return nil
}

// taskFinishedFunc adapts a plain func into a task.Listener.
type taskFinishedFunc func(*task.Task)

func (f taskFinishedFunc) Finished(t *task.Task) { f(t) }

func buildPolicy(mode string, target kad.Key, cfg config.Config) (task.Policy, string) {
	switch mode {
	case "get_peers":
		return lookup.NewGetPeers(target, cfg.K, cfg.Alpha, 8), "get_peers"
	case "announce":
		return lookup.NewAnnounce(target, cfg.K, cfg.Alpha), "announce"
	case "ping":
		return lookup.NewPing(), "ping"
	default:
		return lookup.NewFindNode(target, cfg.K, cfg.Alpha), "find_node"
	}
}

func printResults(log logger.Logger, policy task.Policy) {
	switch p := policy.(type) {
	case *lookup.FindNode:
		for _, e := range p.Responded() {
			log.Info("responded: %s @ %s", e.ID, e.Addr)
		}
	case *lookup.GetPeers:
		for _, peer := range p.Peers() {
			log.Info("peer: %s", peer)
		}
	case *lookup.Announce:
		for _, peer := range p.Peers() {
			log.Info("peer: %s", peer)
		}
	case *lookup.Ping:
		log.Info("alive: %t", p.Alive())
	}
}

// syntheticResponder answers every query as if it reached a node with no
// further contacts to offer, so a demo lookup converges immediately off
// its seeded neighborhood rather than simulating an unbounded network.
func syntheticResponder() memrpc.Responder {
	return func(req rpc.Message) (rpc.Message, bool) {
		switch req.Method {
		case "get_peers":
			return rpc.Message{Token: "demo-token"}, true
		default:
			return rpc.Message{}, true
		}
	}
}

func randomEntry() rtable.Entry {
	return rtable.Entry{
		ID:        kad.RandomKey(),
		Addr:      netip.MustParseAddrPort("127.0.0.1:6881"),
		FirstSeen: time.Now(),
	}
}

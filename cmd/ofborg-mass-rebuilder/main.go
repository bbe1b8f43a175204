// Command ofborg-mass-rebuilder is the evaluator: it consumes
// EvaluationJobs from mass-rebuild-check-jobs and runs the full
// clone/checkout/merge/diff/tag/fan-out state machine for each one.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg"
	"github.com/ofborg-go/ofborg/internal/broker"
	"github.com/ofborg-go/ofborg/internal/checkout"
	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/evaluator"
	"github.com/ofborg-go/ofborg/internal/forge"
	"github.com/ofborg-go/ofborg/internal/maintainers"
	"github.com/ofborg-go/ofborg/internal/message"
	"github.com/ofborg-go/ofborg/internal/nixeval"
	"github.com/ofborg-go/ofborg/internal/worker"
)

// maintainersExpr is the evaluator expression invoked to resolve the
// maintainers of a set of changed attribute paths. It yields an attrset
// keyed by maintainer handle whose values are the package attribute
// paths that maintainer is responsible for, restricted to packages whose
// definition file is among the changed paths.
const maintainersExpr = `
{ changedattrsjson, changedpathsjson }:
let
  pkgs = import ./. {};
  inherit (pkgs) lib;

  changedattrs = builtins.fromJSON (builtins.readFile changedattrsjson);
  changedpaths = builtins.fromJSON (builtins.readFile changedpathsjson);

  anyMatchingFile = filename:
    builtins.any (changed: lib.hasSuffix changed filename) changedpaths;

  enrichedAttrs = builtins.map (path: {
    path = path;
    name = lib.concatStringsSep "." path;
  }) changedattrs;

  validPackageAttributes = builtins.filter (pkg:
    lib.hasAttrByPath pkg.path pkgs
  ) enrichedAttrs;

  attrsWithPackages = builtins.map (pkg:
    pkg // { package = lib.attrByPath pkg.path null pkgs; }
  ) validPackageAttributes;

  attrsWithMaintainers = builtins.map (pkg:
    pkg // { maintainers = pkg.package.meta.maintainers or []; }
  ) attrsWithPackages;

  attrsWeCanPing = builtins.filter (pkg:
    let position = pkg.package.meta.position or null;
    in position != null && anyMatchingFile (lib.head (lib.splitString ":" position))
  ) attrsWithMaintainers;

  listToPing = lib.concatMap (pkg:
    builtins.map (maintainer: {
      handle = maintainer.github or maintainer.email or "";
      packageName = pkg.name;
    }) pkg.maintainers
  ) attrsWeCanPing;

  byMaintainer = lib.groupBy (ping: ping.handle) listToPing;
in
  lib.mapAttrs (_handle: pings: builtins.map (ping: ping.packageName) pings) byMaintainer
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("mass-rebuilder")

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if cfg.MassRebuilder == nil {
		logger.Fatalf("config is missing mass_rebuilder section")
	}
	if cfg.GithubApp == nil {
		logger.Fatalf("config is missing github_app section")
	}

	vendingMachine, err := forge.NewVendingMachine(*cfg.GithubApp)
	if err != nil {
		logger.Fatalf("building github app client: %v", err)
	}

	uri, err := cfg.MassRebuilder.RabbitMQ.AsURI()
	if err != nil {
		logger.Fatalf("building rabbitmq uri: %v", err)
	}
	conn, err := broker.Dial(uri)
	if err != nil {
		logger.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()

	if _, err := conn.DeclareQueue(broker.QueueConfig{Name: "mass-rebuild-check-jobs", Durable: true}); err != nil {
		logger.Fatalf("declaring input queue: %v", err)
	}
	if err := conn.DeclareExchange(broker.ExchangeConfig{Name: "build-jobs", Kind: "fanout"}); err != nil {
		logger.Fatalf("declaring build-jobs exchange: %v", err)
	}
	if err := conn.DeclareExchange(broker.ExchangeConfig{Name: "build-results", Kind: "direct"}); err != nil {
		logger.Fatalf("declaring build-results exchange: %v", err)
	}
	if _, err := conn.DeclareQueue(broker.QueueConfig{Name: "build-results", Durable: true}); err != nil {
		logger.Fatalf("declaring build-results queue: %v", err)
	}
	if err := conn.BindQueue(broker.BindConfig{Queue: "build-results", Exchange: "build-results", RoutingKey: "metadata"}); err != nil {
		logger.Fatalf("binding build-results queue: %v", err)
	}

	system := "x86_64-linux"
	if len(cfg.Nix.System) > 0 {
		system = cfg.Nix.System[0]
	}
	timeout := time.Duration(cfg.Nix.BuildTimeoutSeconds) * time.Second

	driver := &evaluator.Driver{
		ClientFor: vendingMachine.ForRepo,
		Checkout:  checkout.New(cfg.Checkout.Root, cfg.Runner.Instance),
		ACL:       cfg.ACL(),
		Nix: nixeval.Evaluator{
			Remote:  cfg.Nix.Remote,
			System:  system,
			Timeout: timeout,
		},
		Maintainers: &maintainers.Calculator{NixExpr: maintainersExpr},
	}

	runner := &broker.Runner[message.EvaluationJob]{
		Conn:              conn,
		Queue:             "mass-rebuild-check-jobs",
		Identity:          cfg.Whoami(),
		Worker:            &evalWorker{driver: driver},
		Prefetch:          1,
		MaxRequeueBackoff: 30 * time.Second,
	}

	ctx, stop := ofborg.InterruptibleContext()
	defer stop()

	logger.Printf("consuming mass-rebuild-check-jobs")
	if err := runner.Run(ctx, "mass-rebuilder"); err != nil && ctx.Err() == nil {
		logger.Fatalf("consume loop exited: %v", err)
	}
}

// evalWorker adapts evaluator.Driver to the broker-agnostic SimpleWorker
// contract, which has no per-call context: each job runs against a fresh
// background context.
type evalWorker struct {
	driver *evaluator.Driver
}

func (w *evalWorker) Decode(_ string, body []byte) (message.EvaluationJob, error) {
	var job message.EvaluationJob
	if err := json.Unmarshal(body, &job); err != nil {
		return message.EvaluationJob{}, xerrors.Errorf("decoding evaluation job: %w", err)
	}
	return job, nil
}

func (w *evalWorker) Consume(job message.EvaluationJob) worker.Actions {
	_, actions := w.driver.Evaluate(context.Background(), job)
	return actions
}

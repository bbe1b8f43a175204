// Command ofborg-build-dispatcher declares the build-job fanout topology:
// one per-architecture durable queue bound to the build-jobs fanout
// exchange, plus (when explicitly enabled) a dev-mode ephemeral catch-all
// queue for local debugging. It does not build anything itself; external
// builder processes consume the queues this declares.
package main

import (
	"fmt"
	"os"

	"github.com/ofborg-go/ofborg/internal/broker"
	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/systems"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("build-dispatcher")

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}

	uri, err := cfg.RabbitMQ.AsURI()
	if err != nil {
		logger.Fatalf("building rabbitmq uri: %v", err)
	}
	conn, err := broker.Dial(uri)
	if err != nil {
		logger.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()

	if err := conn.DeclareExchange(broker.ExchangeConfig{Name: "build-jobs", Kind: "fanout"}); err != nil {
		logger.Fatalf("declaring build-jobs exchange: %v", err)
	}

	for _, system := range systems.All {
		_, routingKey := system.BuildDestination()
		queueName := "build-inputs-" + string(system)
		if _, err := conn.DeclareQueue(broker.QueueConfig{Name: queueName, Durable: true}); err != nil {
			logger.Fatalf("declaring queue %s: %v", queueName, err)
		}
		if err := conn.BindQueue(broker.BindConfig{Queue: queueName, Exchange: "build-jobs", RoutingKey: routingKey}); err != nil {
			logger.Fatalf("binding queue %s: %v", queueName, err)
		}
		logger.Printf("declared %s for %s", queueName, system)
	}

	// build_all_jobs is a dev-mode-only ephemeral catch-all: a
	// server-named exclusive queue on the fanout exchange, so every
	// builder consuming it sees every job regardless of architecture.
	if cfg.Runner.BuildAllJobs {
		devQueue, err := conn.DeclareQueue(broker.QueueConfig{Name: "", Durable: false, Exclusive: true, AutoDelete: true})
		if err != nil {
			logger.Fatalf("declaring dev-mode queue: %v", err)
		}
		if err := conn.BindQueue(broker.BindConfig{Queue: devQueue, Exchange: "build-jobs", RoutingKey: ""}); err != nil {
			logger.Fatalf("binding dev-mode queue: %v", err)
		}
		logger.Printf("WARN build_all_jobs enabled (%s): every builder sees every job, don't use this in production", devQueue)
	}

	logger.Printf("build-jobs topology ready")
	select {}
}

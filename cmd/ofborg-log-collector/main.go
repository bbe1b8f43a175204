// Command ofborg-log-collector subscribes to the logs topic exchange and
// writes each builder's attempt bundle to disk via internal/logstore.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg"
	"github.com/ofborg-go/ofborg/internal/broker"
	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/logstore"
	"github.com/ofborg-go/ofborg/internal/message"
	"github.com/ofborg-go/ofborg/internal/worker"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("log-collector")

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

	if err := conn.DeclareExchange(broker.ExchangeConfig{Name: "logs", Kind: "topic"}); err != nil {
		logger.Fatalf("declaring logs exchange: %v", err)
	}

	// The logs queue is ephemeral, exclusive, and auto-delete: every
	// running collector gets its own copy of every message, and nothing
	// is retained once the process exits.
	queueName, err := conn.DeclareQueue(broker.QueueConfig{Name: "", Exclusive: true, AutoDelete: true})
	if err != nil {
		logger.Fatalf("declaring logs queue: %v", err)
	}
	if err := conn.BindQueue(broker.BindConfig{Queue: queueName, Exchange: "logs", RoutingKey: "*.*"}); err != nil {
		logger.Fatalf("binding logs queue: %v", err)
	}

	logsPath := "/var/log/ofborg"
	if cfg.LogStorage != nil {
		logsPath = cfg.LogStorage.PathOrDefault()
	}
	store := &logstore.Store{LogsPath: logsPath, Logger: logger}

	runner := &broker.Runner[message.LogEnvelope]{
		Conn:     conn,
		Queue:    queueName,
		Identity: cfg.Whoami(),
		Worker:   &logWorker{store: store, logger: logger},
		Prefetch: 100,
	}

	ctx, stop := ofborg.InterruptibleContext()
	defer stop()

	logger.Printf("consuming logs (%s)", queueName)
	if err := runner.Run(ctx, "log-collector"); err != nil && ctx.Err() == nil {
		logger.Fatalf("consume loop exited: %v", err)
	}
}

type logWorker struct {
	store  *logstore.Store
	logger interface{ Printf(string, ...any) }
}

func (w *logWorker) Decode(_ string, body []byte) (message.LogEnvelope, error) {
	var env message.LogEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return message.LogEnvelope{}, xerrors.Errorf("decoding log envelope: %w", err)
	}
	return env, nil
}

// Consume writes the envelope's payload and never requeues a write
// failure beyond what the broker itself redelivers: the file system, not
// the queue, is authoritative for what's already been written.
func (w *logWorker) Consume(env message.LogEnvelope) worker.Actions {
	owner, repo, pr := env.Repo.Owner, env.Repo.Name, env.PR.Number

	var err error
	switch env.Kind {
	case message.LogChunk:
		err = w.store.AppendLogSegment(owner, repo, pr, env.RequestID, env.AttemptID, env.Chunk)
	case message.LogMetadata:
		err = w.store.WriteJSON(owner, repo, pr, env.RequestID, env.AttemptID, "metadata", env.Body)
	case message.LogResult:
		err = w.store.WriteJSON(owner, repo, pr, env.RequestID, env.AttemptID, "result", env.Body)
	default:
		w.logger.Printf("WARN unknown log envelope kind %q, dumping", env.Kind)
		return worker.Actions{{Kind: worker.NackDump}}
	}

	if err != nil {
		w.logger.Printf("ERROR writing log envelope for %s/%s#%d attempt %s: %v", owner, repo, pr, env.AttemptID, err)
	}
	return worker.Actions{{Kind: worker.Ack}}
}

// Command ofborg-evaluation-filter admits pull_request events: it drops
// everything the ACL or action/state rules rule out and republishes the
// rest as EvaluationJobs.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg"
	"github.com/ofborg-go/ofborg/internal/acl"
	"github.com/ofborg-go/ofborg/internal/broker"
	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/ghevent"
	"github.com/ofborg-go/ofborg/internal/message"
	"github.com/ofborg-go/ofborg/internal/worker"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("evaluation-filter")

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if cfg.EvaluationFilter == nil {
		logger.Fatalf("config is missing evaluation_filter section")
	}

	uri, err := cfg.EvaluationFilter.RabbitMQ.AsURI()
	if err != nil {
		logger.Fatalf("building rabbitmq uri: %v", err)
	}
	conn, err := broker.Dial(uri)
	if err != nil {
		logger.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()

	if _, err := conn.DeclareQueue(broker.QueueConfig{Name: "mass-rebuild-check-jobs", Durable: true}); err != nil {
		logger.Fatalf("declaring output queue: %v", err)
	}
	if _, err := conn.DeclareQueue(broker.QueueConfig{Name: "mass-rebuild-check-inputs", Durable: true}); err != nil {
		logger.Fatalf("declaring input queue: %v", err)
	}

	runner := &broker.Runner[ghevent.PullRequestEvent]{
		Conn:     conn,
		Queue:    "mass-rebuild-check-inputs",
		Identity: cfg.Whoami(),
		Worker:   &filterWorker{acl: cfg.ACL()},
		Prefetch: 10,
	}

	ctx, stop := ofborg.InterruptibleContext()
	defer stop()

	logger.Printf("consuming mass-rebuild-check-inputs")
	if err := runner.Run(ctx, "evaluation-filter"); err != nil && ctx.Err() == nil {
		logger.Fatalf("consume loop exited: %v", err)
	}
}

type filterWorker struct {
	acl *acl.ACL
}

func (w *filterWorker) Decode(_ string, body []byte) (ghevent.PullRequestEvent, error) {
	var event ghevent.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return ghevent.PullRequestEvent{}, xerrors.Errorf("decoding pull_request event: %w", err)
	}
	return event, nil
}

func (w *filterWorker) Consume(event ghevent.PullRequestEvent) worker.Actions {
	if !w.acl.IsRepoEligible(event.Repository.FullName) {
		return worker.Actions{{Kind: worker.Ack}}
	}
	if event.PullRequest.State != ghevent.PullRequestStateOpen {
		return worker.Actions{{Kind: worker.Ack}}
	}

	switch event.Action {
	case ghevent.PullRequestOpened, ghevent.PullRequestSynchronize, ghevent.PullRequestReopened:
		// interesting
	case ghevent.PullRequestEdited:
		if !event.IsInterestingEdit() {
			return worker.Actions{{Kind: worker.Ack}}
		}
	default:
		return worker.Actions{{Kind: worker.Ack}}
	}

	job := message.EvaluationJob{
		Repo: event.Repository.ToOfborg(),
		PR:   event.ToOfborg(),
	}
	action, err := worker.PublishJSON("", "mass-rebuild-check-jobs", job)
	if err != nil {
		return worker.Actions{{Kind: worker.NackRequeue}}
	}
	return worker.Actions{action, {Kind: worker.Ack}}
}

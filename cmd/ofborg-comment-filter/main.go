// Command ofborg-comment-filter parses "@ofborg ..." command comments and
// emits evaluation jobs and/or build jobs for the pull request they were
// left on.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg"
	"github.com/ofborg-go/ofborg/internal/acl"
	"github.com/ofborg-go/ofborg/internal/broker"
	"github.com/ofborg-go/ofborg/internal/commentparser"
	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/forge"
	"github.com/ofborg-go/ofborg/internal/ghevent"
	"github.com/ofborg-go/ofborg/internal/message"
	"github.com/ofborg-go/ofborg/internal/systems"
	"github.com/ofborg-go/ofborg/internal/worker"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("comment-filter")

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if cfg.GithubCommentFilter == nil {
		logger.Fatalf("config is missing github_comment_filter section")
	}
	if cfg.GithubApp == nil {
		logger.Fatalf("config is missing github_app section")
	}

	vendingMachine, err := forge.NewVendingMachine(*cfg.GithubApp)
	if err != nil {
		logger.Fatalf("building github app client: %v", err)
	}

	uri, err := cfg.GithubCommentFilter.RabbitMQ.AsURI()
	if err != nil {
		logger.Fatalf("building rabbitmq uri: %v", err)
	}
	conn, err := broker.Dial(uri)
	if err != nil {
		logger.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()

	for _, q := range []string{"build-inputs", "mass-rebuild-check-jobs"} {
		if _, err := conn.DeclareQueue(broker.QueueConfig{Name: q, Durable: true}); err != nil {
			logger.Fatalf("declaring queue %s: %v", q, err)
		}
	}

	w := &commentWorker{acl: cfg.ACL(), forge: vendingMachine, logger: logger}
	runner := &broker.Runner[ghevent.IssueComment]{
		Conn:     conn,
		Queue:    "build-inputs",
		Identity: cfg.Whoami(),
		Worker:   w,
		Prefetch: 10,
	}

	ctx, stop := ofborg.InterruptibleContext()
	defer stop()

	logger.Printf("consuming build-inputs")
	if err := runner.Run(ctx, "comment-filter"); err != nil && ctx.Err() == nil {
		logger.Fatalf("consume loop exited: %v", err)
	}
}

type commentWorker struct {
	acl    *acl.ACL
	forge  *forge.VendingMachine
	logger interface{ Printf(string, ...any) }
}

func (w *commentWorker) Decode(_ string, body []byte) (ghevent.IssueComment, error) {
	var event ghevent.IssueComment
	if err := json.Unmarshal(body, &event); err != nil {
		return ghevent.IssueComment{}, xerrors.Errorf("decoding issue_comment event: %w", err)
	}
	return event, nil
}

func (w *commentWorker) Consume(event ghevent.IssueComment) worker.Actions {
	if event.Action != ghevent.IssueCommentCreated {
		return worker.Actions{{Kind: worker.Ack}}
	}
	if !w.acl.IsRepoEligible(event.Repository.FullName) {
		return worker.Actions{{Kind: worker.Ack}}
	}

	instructions := commentparser.Parse(event.Comment.Body)
	if len(instructions) == 0 {
		return worker.Actions{{Kind: worker.Ack}}
	}

	ctx := context.Background()
	repo := event.Repository.ToOfborg()

	client, err := w.forge.ForRepo(ctx, repo.Owner, repo.Name)
	if err != nil {
		w.logger.Printf("ERROR getting forge client for %s: %v", repo.FullName, err)
		return worker.Actions{{Kind: worker.NackRequeue}}
	}

	pr, _, err := client.PullRequests.Get(ctx, repo.Owner, repo.Name, event.Issue.Number)
	if err != nil {
		// Not every issue comment is on a pull request.
		return worker.Actions{{Kind: worker.Ack}}
	}
	if pr.GetState() != "open" {
		return worker.Actions{{Kind: worker.Ack}}
	}

	prDescriptor := ofborg.PullRequest{
		Number:       event.Issue.Number,
		HeadSHA:      pr.GetHead().GetSHA(),
		TargetBranch: pr.GetBase().GetRef(),
	}

	var actions worker.Actions
	archs := w.acl.BuildJobArchitecturesForUserRepo(event.Comment.User.Login, repo.FullName, false)

	for _, instr := range instructions {
		switch instr.Kind {
		case commentparser.Eval:
			job := message.EvaluationJob{Repo: repo, PR: prDescriptor}
			action, err := worker.PublishJSON("", "mass-rebuild-check-jobs", job)
			if err == nil {
				actions = append(actions, action)
			}

		case commentparser.Build:
			targetArchs := archs
			if instr.Subset == message.SubsetNixOS {
				targetArchs = nixosCapable(archs)
			}
			if len(targetArchs) == 0 || len(instr.Attrs) == 0 {
				continue
			}
			buildJob := message.NewBuildJob(repo, prDescriptor, instr.Subset, instr.Attrs, uuid.NewString())
			actions = append(actions, fanOut(buildJob, targetArchs)...)
		}
	}

	actions = append(actions, worker.Action{Kind: worker.Ack})
	return actions
}

func nixosCapable(archs []systems.System) []systems.System {
	var out []systems.System
	for _, a := range archs {
		if a.CanRunNixOSTests() {
			out = append(out, a)
		}
	}
	return out
}

// fanOut publishes buildJob to every arch's build destination plus one
// QueuedBuildJobs record to build-results, matching internal/evaluator's
// fan-out contract.
func fanOut(buildJob message.BuildJob, archs []systems.System) worker.Actions {
	var actions worker.Actions
	archNames := make([]string, 0, len(archs))
	for _, arch := range archs {
		exchange, routingKey := arch.BuildDestination()
		action, err := worker.PublishJSON(exchange, routingKey, buildJob)
		if err != nil {
			continue
		}
		actions = append(actions, action)
		archNames = append(archNames, string(arch))
	}
	envelope := message.QueuedBuildJobs{Job: buildJob, Architectures: archNames}
	if action, err := worker.PublishJSON("build-results", "metadata", envelope); err == nil {
		actions = append(actions, action)
	}
	return actions
}

// Package worker defines the broker-agnostic contract every pipeline
// service implements: decode a delivery into a job, consume the job, and
// return the ordered list of actions the broker runtime must perform
// before it acks or nacks the triggering delivery.
package worker

import "encoding/json"

// ActionKind distinguishes the variants of Action.
type ActionKind int

const (
	Ack ActionKind = iota
	NackRequeue
	NackDump
	PublishKind
)

// Action is one element of the sequence a SimpleWorker's Consume returns.
// Exactly one of {Ack, NackRequeue, NackDump} may appear, and only as the
// last element; any number of PublishKind actions may precede it.
type Action struct {
	Kind ActionKind

	// Publish fields, valid when Kind == PublishKind.
	Exchange    string
	RoutingKey  string
	ContentType string
	Mandatory   bool
	Immediate   bool
	Body        []byte
}

// Actions is the ordered sequence a Consume call returns.
type Actions []Action

// PublishJSON marshals v and returns a Publish action addressed to
// exchange/routingKey with content-type application/json.
func PublishJSON(exchange, routingKey string, v any) (Action, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Kind:        PublishKind,
		Exchange:    exchange,
		RoutingKey:  routingKey,
		ContentType: "application/json",
		Body:        body,
	}, nil
}

// SimpleWorker is the contract a pipeline service implements against one
// queue. Job is the service's own decoded message type.
type SimpleWorker[Job any] interface {
	// Decode parses a delivery body for the given routing key into a Job.
	// Decode errors always yield Actions{NackDump}; they are never retried.
	Decode(routingKey string, body []byte) (Job, error)

	// Consume processes a decoded job and returns the actions the runtime
	// must perform. The runtime publishes every PublishKind action,
	// dispatching each to the broker without waiting for a publisher
	// confirmation, before acting on the trailing terminal action.
	Consume(job Job) Actions
}

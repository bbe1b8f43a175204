// Command ofborg-webhook-receiver accepts GitHub webhook deliveries,
// verifies their HMAC-SHA256 signature, and republishes the byte-exact
// body onto the github-events topic exchange, routed by
// "<event-type>.<full_name-lowercased>".
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/ofborg-go/ofborg/internal/broker"
	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/ghevent"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("webhook-receiver")

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if cfg.GithubWebhookReceiver == nil {
		logger.Fatalf("config is missing github_webhook_receiver section")
	}
	section := cfg.GithubWebhookReceiver

	secretBytes, err := os.ReadFile(section.WebhookSecretFile)
	if err != nil {
		logger.Fatalf("reading webhook secret: %v", err)
	}
	secret := strings.TrimSpace(string(secretBytes))

	uri, err := section.RabbitMQ.AsURI()
	if err != nil {
		logger.Fatalf("building rabbitmq uri: %v", err)
	}
	conn, err := broker.Dial(uri)
	if err != nil {
		logger.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()

	if err := declareTopology(conn); err != nil {
		logger.Fatalf("declaring topology: %v", err)
	}

	h := &handler{
		secret: secret,
		conn:   conn,
		logger: logger,
		// One in-flight delivery per detected hardware thread; excess
		// requests queue on the channel rather than piling up publishes
		// on the shared broker channel.
		slots: make(chan struct{}, runtime.NumCPU()),
	}
	logger.Printf("listening on %s with %d workers", section.Listen, cap(h.slots))
	if err := http.ListenAndServe(section.Listen, h); err != nil {
		logger.Fatalf("http server: %v", err)
	}
}

// declareTopology matches the receiver's exchange/queue/binding layout:
// one topic exchange fans out to the build-inputs queue for issue
// comments, an unknown-event catch-all, and the mass-rebuild trigger
// scoped to nixpkgs pull requests.
func declareTopology(conn *broker.Conn) error {
	if err := conn.DeclareExchange(broker.ExchangeConfig{Name: "github-events", Kind: "topic"}); err != nil {
		return err
	}

	queues := []struct {
		name       string
		routingKey string
	}{
		{"build-inputs", "issue_comment.*"},
		{"github-events-unknown", "unknown.*"},
		{"mass-rebuild-check-inputs", "pull_request.nixos/*"},
	}
	for _, q := range queues {
		if _, err := conn.DeclareQueue(broker.QueueConfig{Name: q.name, Durable: true}); err != nil {
			return err
		}
		if err := conn.BindQueue(broker.BindConfig{Queue: q.name, Exchange: "github-events", RoutingKey: q.routingKey}); err != nil {
			return err
		}
	}
	return nil
}

type handler struct {
	secret string
	conn   *broker.Conn
	logger *log.Logger
	slots  chan struct{}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	h.slots <- struct{}{}
	defer func() { <-h.slots }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respond(w, http.StatusInternalServerError, "Failed to read body")
		return
	}

	if msg, ok := verifySignature(r.Header.Get("X-Hub-Signature-256"), h.secret, body); !ok {
		h.respond(w, http.StatusBadRequest, msg)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		h.respond(w, http.StatusBadRequest, "Missing event type")
		return
	}

	var generic ghevent.GenericWebhook
	if err := json.Unmarshal(body, &generic); err != nil {
		h.respond(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	routingKey := eventType + "." + strings.ToLower(generic.Repository.FullName)
	if err := h.conn.Publish(r.Context(), "github-events", routingKey, "application/json", false, false, body); err != nil {
		h.logger.Printf("ERROR publishing %s: %v", routingKey, err)
		h.respond(w, http.StatusInternalServerError, "Failed to publish")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) respond(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

// verifySignature returns a distinct diagnostic for each way a signature
// header can be malformed, so the forge's delivery log pinpoints the
// problem.
func verifySignature(header, secret string, body []byte) (string, bool) {
	if header == "" {
		return "Missing signature header", false
	}

	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 {
		return "Signature hash method missing", false
	}
	method, hexDigest := parts[0], parts[1]
	if method != "sha256" {
		return "Invalid signature hash method", false
	}

	want, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "Invalid signature hash hex", false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)

	if !hmac.Equal(want, got) {
		return "Signature verification failed", false
	}
	return "", true
}

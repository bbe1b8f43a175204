// Package config loads ofborg's single JSON configuration document. Every
// section is strict (unknown fields rejected); secret fields are file
// references. Load does not read them: their users read and trim them
// (RabbitMQ.AsURI reads PasswordFile on every call).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg/internal/acl"
	"github.com/ofborg-go/ofborg/internal/systems"
)

// RabbitMQ configures a broker connection. AsURI reads and trims
// PasswordFile each time it builds the amqp[s] connection string.
type RabbitMQ struct {
	SSL          bool   `json:"ssl"`
	Host         string `json:"host"`
	VirtualHost  string `json:"virtualhost,omitempty"`
	Username     string `json:"username"`
	PasswordFile string `json:"password_file"`
}

// AsURI reads PasswordFile and returns "amqp[s]://user:pass@host/vhost".
func (r RabbitMQ) AsURI() (string, error) {
	passwordBytes, err := os.ReadFile(r.PasswordFile)
	if err != nil {
		return "", xerrors.Errorf("reading rabbitmq password file: %w", err)
	}
	password := strings.TrimSpace(string(passwordBytes))
	vhost := r.VirtualHost
	if vhost == "" {
		vhost = "/"
	}
	scheme := "amqp"
	if r.SSL {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s/%s", scheme, r.Username, password, r.Host, vhost), nil
}

// GithubWebhookReceiver configures the webhook ingress service.
type GithubWebhookReceiver struct {
	Listen            string   `json:"listen"`
	WebhookSecretFile string   `json:"webhook_secret_file"`
	RabbitMQ          RabbitMQ `json:"rabbitmq"`
}

// LogAPI configures the log read API service.
type LogAPI struct {
	Listen    string `json:"listen"`
	LogsPath  string `json:"logs_path,omitempty"`
	ServeRoot string `json:"serve_root,omitempty"`
}

// LogsPathOrDefault falls back to the production log volume.
func (l LogAPI) LogsPathOrDefault() string {
	if l.LogsPath == "" {
		return "/var/log/ofborg"
	}
	return l.LogsPath
}

// ServeRootOrDefault falls back to the public log file server.
func (l LogAPI) ServeRootOrDefault() string {
	if l.ServeRoot == "" {
		return "https://logs.ofborg.org/logfile"
	}
	return l.ServeRoot
}

// RabbitMQSection wraps the common "just a broker connection" sections:
// evaluation_filter, github_comment_filter, github_comment_poster,
// mass_rebuilder.
type RabbitMQSection struct {
	RabbitMQ RabbitMQ `json:"rabbitmq"`
}

// Feedback configures whether full build logs are echoed back as commit
// status gists.
type Feedback struct {
	FullLogs bool `json:"full_logs"`
}

// Checkout configures the VCS collaborator's clone root.
type Checkout struct {
	Root string `json:"root"`
}

// Nix configures the external package-set evaluator invocation.
type Nix struct {
	System              oneOrMany `json:"system"`
	Remote              string    `json:"remote"`
	BuildTimeoutSeconds uint16    `json:"build_timeout_seconds"`
	InitialHeapSize     string    `json:"initial_heap_size,omitempty"`
}

// oneOrMany accepts either a bare string or a list of strings, so older
// single-system configs keep working.
type oneOrMany []string

func (o *oneOrMany) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*o = oneOrMany{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return xerrors.Errorf("system must be a string or list of strings: %w", err)
	}
	*o = many
	return nil
}

// GithubApp configures the GitHub App vending machine.
type GithubApp struct {
	AppID                 int64  `json:"app_id"`
	PrivateKey            string `json:"private_key"`
	OAuthClientID         string `json:"oauth_client_id"`
	OAuthClientSecretFile string `json:"oauth_client_secret_file"`
}

// LogStorage configures the log collector's write-once bundle directory.
type LogStorage struct {
	Path string `json:"path"`
}

// PathOrDefault mirrors LogAPI.LogsPathOrDefault's fallback, so an
// unconfigured log collector still writes somewhere predictable.
func (l LogStorage) PathOrDefault() string {
	if l.Path == "" {
		return "/var/log/ofborg"
	}
	return l.Path
}

// Runner configures the process's identity, repo/trust set, and dev-mode
// toggles.
type Runner struct {
	Instance            uint8    `json:"instance,omitempty"`
	Identity            string   `json:"identity"`
	Repos               []string `json:"repos,omitempty"`
	DisableTrustedUsers bool     `json:"disable_trusted_users,omitempty"`
	TrustedUsers        []string `json:"trusted_users,omitempty"`
	BuildAllJobs        bool     `json:"build_all_jobs,omitempty"`
}

// Config is the root of the single JSON document every binary loads.
// Optional sections enable each service.
type Config struct {
	GithubWebhookReceiver *GithubWebhookReceiver `json:"github_webhook_receiver,omitempty"`
	LogAPIConfig          *LogAPI                `json:"log_api_config,omitempty"`
	EvaluationFilter      *RabbitMQSection       `json:"evaluation_filter,omitempty"`
	GithubCommentFilter   *RabbitMQSection       `json:"github_comment_filter,omitempty"`
	GithubCommentPoster   *RabbitMQSection       `json:"github_comment_poster,omitempty"`
	MassRebuilder         *RabbitMQSection       `json:"mass_rebuilder,omitempty"`
	Runner                Runner                 `json:"runner"`
	Feedback              Feedback               `json:"feedback"`
	Checkout              Checkout               `json:"checkout"`
	Nix                   Nix                    `json:"nix"`
	RabbitMQ              RabbitMQ               `json:"rabbitmq"`
	GithubApp             *GithubApp             `json:"github_app,omitempty"`
	LogStorage            *LogStorage            `json:"log_storage,omitempty"`
}

// Whoami returns an identity string combining the runner's configured
// identity and its build systems, for logging and consumer tags.
func (c *Config) Whoami() string {
	return fmt.Sprintf("%s-%s", c.Runner.Identity, strings.Join(c.Nix.System, ","))
}

// ACL builds an acl.ACL from Runner.Repos/TrustedUsers. Sandboxed
// architectures are every architecture that does not require
// non-sandboxed (darwin) hardware; trusted users unlock the rest via
// acl.ACL.BuildJobArchitecturesForUserRepo.
func (c *Config) ACL() *acl.ACL {
	trusted := c.Runner.TrustedUsers
	if c.Runner.DisableTrustedUsers {
		trusted = nil
	}
	sandboxed := []systems.System{systems.X8664Linux, systems.Aarch64Linux}
	return acl.New(c.Runner.Repos, trusted, sandboxed)
}

// Load reads and strictly decodes the JSON configuration document at
// path. Every populated section rejects unknown fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading config %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, xerrors.Errorf("parsing config %s: %w", path, err)
	}
	return &c, nil
}

package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/tools"
)

// Runner executes remediation commands it recognises.
type Runner interface {
	Name() string
	CanRun(command string) bool
	Run(ctx context.Context, action models.Action) (string, error)
}

// Registry selects a runner by capability lookup on the command string.
type Registry struct {
	runners []Runner
	dryRun  bool
	dry     DryRunRunner
}

// NewRegistry constructs a Registry. In dry-run mode every action is routed to the dry-run runner.
func NewRegistry(dryRun bool, runners ...Runner) *Registry {
	return &Registry{runners: runners, dryRun: dryRun}
}

// Resolve returns the runner for command.
func (r *Registry) Resolve(command string) (Runner, bool) {
	if r.dryRun {
		return r.dry, true
	}
	for _, runner := range r.runners {
		if runner.CanRun(command) {
			return runner, true
		}
	}
	return nil, false
}

// DryRunRunner reports what would run without touching anything.
type DryRunRunner struct{}

// Name implements Runner.
func (DryRunRunner) Name() string { return "dry_run" }

// CanRun implements Runner.
func (DryRunRunner) CanRun(string) bool { return true }

// Run implements Runner.
func (DryRunRunner) Run(_ context.Context, action models.Action) (string, error) {
	return fmt.Sprintf("[DRY RUN] Would execute: %s", action.Command), nil
}

// ContainerRestarter is the slice of the Docker API the DockerRunner needs.
type ContainerRestarter interface {
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
}

// DockerRunner restarts containers for commands of the form "docker restart <name>...".
type DockerRunner struct {
	api         ContainerRestarter
	stopTimeout int
}

// NewDockerRunner connects to the Docker daemon from the environment, or host when set.
func NewDockerRunner(host string, stopTimeout time.Duration) (*DockerRunner, *client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewDockerRunnerWithAPI(cli, stopTimeout), cli, nil
}

// NewDockerRunnerWithAPI wraps an existing Docker API client.
func NewDockerRunnerWithAPI(api ContainerRestarter, stopTimeout time.Duration) *DockerRunner {
	seconds := int(stopTimeout / time.Second)
	if seconds <= 0 {
		seconds = 10
	}
	return &DockerRunner{api: api, stopTimeout: seconds}
}

// Name implements Runner.
func (d *DockerRunner) Name() string { return "docker" }

// CanRun implements Runner.
func (d *DockerRunner) CanRun(command string) bool {
	fields := strings.Fields(command)
	return len(fields) >= 3 && fields[0] == "docker" && fields[1] == "restart"
}

// Run implements Runner.
func (d *DockerRunner) Run(ctx context.Context, action models.Action) (string, error) {
	fields := strings.Fields(action.Command)
	if len(fields) < 3 {
		return "", fmt.Errorf("no container named in %q", action.Command)
	}
	restarted := make([]string, 0, len(fields)-2)
	for _, name := range fields[2:] {
		if strings.HasPrefix(name, "-") {
			continue
		}
		timeout := d.stopTimeout
		if err := d.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
			return strings.Join(restarted, ", "), fmt.Errorf("failed to restart container %s: %w", name, err)
		}
		restarted = append(restarted, name)
	}
	return fmt.Sprintf("Restarted containers: %s", strings.Join(restarted, ", ")), nil
}

// WebhookRunner forwards commands of the form "webhook <operation> [args]" to an automation endpoint.
type WebhookRunner struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewWebhookRunner constructs a WebhookRunner posting to url.
func NewWebhookRunner(url, token string, timeout time.Duration) *WebhookRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookRunner{url: url, token: token, httpClient: &http.Client{Timeout: timeout}}
}

// Name implements Runner.
func (w *WebhookRunner) Name() string { return "webhook" }

// CanRun implements Runner.
func (w *WebhookRunner) CanRun(command string) bool {
	return w.url != "" && strings.HasPrefix(strings.TrimSpace(command), "webhook ")
}

// Run implements Runner.
func (w *WebhookRunner) Run(ctx context.Context, action models.Action) (string, error) {
	fields := strings.Fields(action.Command)
	if len(fields) < 2 {
		return "", fmt.Errorf("webhook command without operation")
	}
	body, err := json.Marshal(map[string]any{
		"operation":    fields[1],
		"args":         fields[2:],
		"action":       action.Description,
		"risk":         action.Risk,
		"reversible":   action.Reversible,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return strings.TrimSpace(string(respBody)), nil
}

// HealthProbe is satisfied by tools.Gateway.
type HealthProbe interface {
	Health(ctx context.Context, service string) (tools.HealthResult, models.Observation)
}

// DiagnosticsRunner captures a health snapshot for commands of the form "diagnostics <service>".
type DiagnosticsRunner struct {
	probe  HealthProbe
	logger *slog.Logger
}

// NewDiagnosticsRunner constructs a DiagnosticsRunner.
func NewDiagnosticsRunner(probe HealthProbe, logger *slog.Logger) *DiagnosticsRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsRunner{probe: probe, logger: logger}
}

// Name implements Runner.
func (d *DiagnosticsRunner) Name() string { return "diagnostics" }

// CanRun implements Runner.
func (d *DiagnosticsRunner) CanRun(command string) bool {
	fields := strings.Fields(command)
	return len(fields) == 2 && fields[0] == "diagnostics"
}

// Run implements Runner.
func (d *DiagnosticsRunner) Run(ctx context.Context, action models.Action) (string, error) {
	service := strings.Fields(action.Command)[1]
	_, obs := d.probe.Health(ctx, service)
	if obs.Status != tools.StatusSuccess {
		return "", fmt.Errorf("diagnostics for %s: %s", service, obs.Summary)
	}
	d.logger.Info("diagnostics snapshot", slog.String("service", service), slog.String("summary", obs.Summary))
	return obs.Summary, nil
}

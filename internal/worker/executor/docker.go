package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// dockerAPI is the subset of the docker client the sandbox uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	Close() error
}

type DockerConfig struct {
	Image       string
	Pull        bool
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	Timeout     time.Duration
}

// recipe is a shell program plus the parser that turns its stdout into the
// same value the builtin capability produces. Job arguments arrive as
// ARG_<NAME> environment variables.
type recipe struct {
	script string
	parse  func(stdout string) (any, error)
}

var recipes = map[string]recipe{
	"md5":    {script: `printf %s "${ARG_DATA:-androcompute}" | md5sum | cut -d' ' -f1`, parse: parseText},
	"sha256": {script: `printf %s "${ARG_DATA:-androcompute}" | sha256sum | cut -d' ' -f1`, parse: parseText},
	"digest": {
		script: `d="${ARG_DATA:-` + sampleData + `}"
printf %s "$d" | md5sum | cut -d' ' -f1
printf %s "$d" | sha256sum | cut -d' ' -f1`,
		parse: parseDigest,
	},
	"pi": {
		script: `awk -v d="${ARG_DIGITS:-10}" 'BEGIN { printf "%s\n", substr(sprintf("%.15f", atan2(0, -1)), 1, d) }'`,
		parse:  parseText,
	},
	"leibniz_pi": {
		script: `awk -v n="${ARG_TERMS:-1000000}" 'BEGIN { s = 0; sg = 1; for (i = 0; i < n; i++) { s += sg / (2 * i + 1); sg = -sg } printf "%.15g\n", s * 4 }'`,
		parse:  parseJSON,
	},
	"sum_squares": {
		script: `awk -v n="${ARG_N:-1000}" 'BEGIN { s = 0; for (i = 0; i < n; i++) s += i * i; printf "%d\n", s }'`,
		parse:  parseText,
	},
	"fibonacci": {
		script: `awk -v n="${ARG_N:-20}" 'BEGIN { a = 0; b = 1; for (i = 0; i < n; i++) { t = a + b; a = b; b = t } printf "%d\n", a }'`,
		parse:  parseText,
	},
	"series_sum": {
		script: `awk -v n="${ARG_TERMS:-11}" 'BEGIN { s = 0; p = 1; for (i = 0; i < n; i++) { s += 1 / p; p *= 2 } printf "%.6f\n", s }'`,
		parse:  parseText,
	},
	"primes": {
		script: `awk -v n="${ARG_LIMIT:-50}" 'BEGIN { out = ""; for (i = 2; i <= n; i++) { p = 1; for (j = 2; j * j <= i; j++) if (i % j == 0) { p = 0; break } if (p) out = out (out == "" ? "" : ",") i } print out }'`,
		parse:  parseText,
	},
	"matrix_multiply": {
		script: `awk -v n="${ARG_SIZE:-3}" 'BEGIN {
  for (i = 0; i < n; i++) for (j = 0; j < n; j++) { a[i, j] = i * n + j + 1; b[i, j] = n * n - (i * n + j) }
  printf "["
  for (i = 0; i < n; i++) {
    printf "%s[", (i ? "," : "")
    for (j = 0; j < n; j++) { s = 0; for (k = 0; k < n; k++) s += a[i, k] * b[k, j]; printf "%s%d", (j ? "," : ""), s }
    printf "]"
  }
  print "]"
}'`,
		parse: parseJSON,
	},
	// ASCII words only; ties keep first appearance order.
	"word_frequency": {
		script: `printf '%s' "${ARG_TEXT:-` + sampleText + `}" | tr 'A-Z' 'a-z' | awk -v top="${ARG_TOP:-10}" '
{ for (f = 1; f <= NF; f++) { w = $f; gsub(/[^a-z0-9]/, "", w); if (w == "") continue; if (!(w in c)) order[++n] = w; c[w]++ } }
END {
  for (r = 1; r <= top && r <= n; r++) {
    best = 0
    for (i = 1; i <= n; i++) if (!(i in used) && (best == 0 || c[order[i]] > c[order[best]])) best = i
    used[best] = 1
    print c[order[best]], order[best]
  }
}'`,
		parse: parseWordCounts,
	},
	// ASCII case mapping; newlines in the text are folded to spaces.
	"string_stats": {
		script: `t=$(printf '%s' "${ARG_TEXT:-` + sampleData + `}" | tr '\n' ' ')
printf '%s\n' "$t" | tr 'a-z' 'A-Z'
printf '%s\n' "$t" | tr 'A-Z' 'a-z'
printf '%s' "$t" | wc -w
printf '%s' "$t" | wc -m
printf '%s\n' "$t" | rev`,
		parse: parseStringStats,
	},
}

func parseText(stdout string) (any, error) {
	return strings.TrimSpace(stdout), nil
}

func parseJSON(stdout string) (any, error) {
	raw := json.RawMessage(strings.TrimSpace(stdout))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("recipe printed invalid JSON: %q", truncateOutput(string(raw)))
	}
	return raw, nil
}

// outputLines splits stdout into exactly n lines.
func outputLines(stdout string, n int) ([]string, error) {
	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	if len(lines) != n {
		return nil, fmt.Errorf("recipe printed %d lines, want %d", len(lines), n)
	}
	return lines, nil
}

func parseDigest(stdout string) (any, error) {
	lines, err := outputLines(stdout, 2)
	if err != nil {
		return nil, err
	}
	return map[string]string{"md5": strings.TrimSpace(lines[0]), "sha256": strings.TrimSpace(lines[1])}, nil
}

func parseWordCounts(stdout string) (any, error) {
	words := make([]WordCount, 0)
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		count, word, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed word count line %q", line)
		}
		n, err := strconv.Atoi(count)
		if err != nil {
			return nil, fmt.Errorf("malformed word count line %q", line)
		}
		words = append(words, WordCount{Word: word, Count: n})
	}
	return words, nil
}

func parseStringStats(stdout string) (any, error) {
	lines, err := outputLines(stdout, 5)
	if err != nil {
		return nil, err
	}
	words, err := strconv.Atoi(strings.TrimSpace(lines[2]))
	if err != nil {
		return nil, fmt.Errorf("word count: %w", err)
	}
	chars, err := strconv.Atoi(strings.TrimSpace(lines[3]))
	if err != nil {
		return nil, fmt.Errorf("character count: %w", err)
	}
	return map[string]any{
		"uppercase":       lines[0],
		"lowercase":       lines[1],
		"word_count":      words,
		"character_count": chars,
		"reversed":        lines[4],
	}, nil
}

func truncateOutput(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

var argNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Docker runs job recipes in a locked-down container: no network, read-only
// root filesystem, every capability dropped, memory, CPU and pid limits.
type Docker struct {
	cli    dockerAPI
	cfg    DockerConfig
	logger *zap.Logger
}

func NewDocker(cfg DockerConfig, logger *zap.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDocker(cli, cfg, logger), nil
}

func newDocker(cli dockerAPI, cfg DockerConfig, logger *zap.Logger) *Docker {
	if cfg.Image == "" {
		cfg.Image = "alpine:latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Docker{cli: cli, cfg: cfg, logger: logger.Named("docker")}
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// Kinds lists the supported body kinds, sorted.
func (d *Docker) Kinds() []string {
	kinds := make([]string, 0, len(recipes))
	for k := range recipes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (d *Docker) Execute(ctx context.Context, body string) Outcome {
	start := time.Now()

	parsed, err := model.ParseBody(body)
	if err != nil {
		return failure(err.Error(), time.Since(start))
	}
	rcp, ok := recipes[parsed.Kind]
	if !ok {
		return failure(fmt.Sprintf("unsupported job kind %q", parsed.Kind), time.Since(start))
	}
	env, err := argEnv(parsed)
	if err != nil {
		return failure(err.Error(), time.Since(start))
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	stdout, err := d.run(ctx, rcp.script, env)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failure(fmt.Sprintf("job timed out after %s", d.cfg.Timeout), elapsed)
		}
		return failure(err.Error(), elapsed)
	}
	value, err := rcp.parse(stdout)
	if err != nil {
		return failure(err.Error(), elapsed)
	}
	return success(value, elapsed)
}

func (d *Docker) run(ctx context.Context, script string, env []string) (string, error) {
	if d.cfg.Pull {
		reader, err := d.cli.ImagePull(ctx, d.cfg.Image, types.ImagePullOptions{})
		if err != nil {
			return "", fmt.Errorf("pull %s: %w", d.cfg.Image, err)
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           d.cfg.Image,
		Cmd:             []string{"sh", "-c", script},
		Env:             env,
		User:            "65534:65534",
		NetworkDisabled: true,
		Tty:             false,
	}, d.hostConfig(), nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID
	d.logger.Debug("Container created", zap.String("container", shortID(containerID)))

	// removal must outlive a cancelled job context
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := d.cli.ContainerRemove(rmCtx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			d.logger.Warn("Container remove failed", zap.String("container", shortID(containerID)), zap.Error(err))
		}
	}()

	if err := d.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("wait container: %w", err)
		}
	case st := <-statusCh:
		if st.Error != nil {
			return "", fmt.Errorf("wait container: %s", st.Error.Message)
		}
		exitCode = st.StatusCode
	}

	logs, err := d.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("demux logs: %w", err)
	}

	if exitCode != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no stderr"
		}
		return "", fmt.Errorf("container exited with status %d: %s", exitCode, msg)
	}
	return stdout.String(), nil
}

func (d *Docker) hostConfig() *container.HostConfig {
	hc := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:   d.cfg.MemoryBytes,
			NanoCPUs: d.cfg.NanoCPUs,
		},
	}
	if d.cfg.PidsLimit > 0 {
		limit := d.cfg.PidsLimit
		hc.Resources.PidsLimit = &limit
	}
	return hc
}

// argEnv turns body arguments into ARG_<NAME>=value pairs, sorted by name.
func argEnv(b model.Body) ([]string, error) {
	names := make([]string, 0, len(b.Args))
	for name := range b.Args {
		if !argNameRe.MatchString(name) {
			return nil, fmt.Errorf("argument name %q is not allowed", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]string, 0, len(names))
	for _, name := range names {
		env = append(env, "ARG_"+strings.ToUpper(name)+"="+b.Args.Get(name))
	}
	return env, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

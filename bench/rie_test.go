// Package bench drives the bootstrap binary inside the Lambda Runtime
// Interface Emulator (RIE) with podman. Everything here needs podman and
// network access, so it only runs with HELLO_E2E=1.
package bench

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	jsoniter "github.com/json-iterator/go"
)

const (
	imageName   = "hello-lambda-bench"
	rieAddr     = "127.0.0.1:9000"
	invokeURL   = "http://" + rieAddr + "/2015-03-31/functions/function/invocations"
	e2eEnvGuard = "HELLO_E2E"
)

// reportMetrics captures AWS-style REPORT line fields emitted by the RIE.
type reportMetrics struct {
	RequestID        string
	DurationMs       float64
	BilledDurationMs float64
}

// invocationMetrics mirrors the structured JSON log we emit from the event loop.
type invocationMetrics struct {
	Message     string `json:"message"`
	RequestID   string `json:"request_id"`
	Outcome     string `json:"outcome"`
	ErrorType   string `json:"error_type"`
	NextMs      int64  `json:"next_ms"`
	UnmarshalMs int64  `json:"unmarshal_ms"`
	ValidateMs  int64  `json:"validate_ms"`
	HandlerMs   int64  `json:"handler_ms"`
	MarshalMs   int64  `json:"marshal_ms"`
	PostMs      int64  `json:"post_ms"`
	TotalMs     int64  `json:"total_ms"`
}

var (
	reRID  = regexp.MustCompile(`REPORT\s+RequestId:\s*([a-zA-Z0-9-]+)`)
	reInit = regexp.MustCompile(`Init\s+Duration:\s*[0-9.]+\s*ms`)
	reDur  = regexp.MustCompile(`\bDuration:\s*([0-9.]+)\s*ms`)
	reBill = regexp.MustCompile(`\bBilled\s+Duration:\s*([0-9.]+)\s*ms`)
)

func requireE2E(tb testing.TB) {
	tb.Helper()
	if os.Getenv(e2eEnvGuard) != "1" {
		tb.Skipf("set %s=1 to run against the runtime interface emulator", e2eEnvGuard)
	}
	if _, err := exec.LookPath("podman"); err != nil {
		tb.Skip("podman not installed")
	}
}

// runCmd runs an external command and returns stdout as string.
func runCmd(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s %v failed: %w: %s", name, args, err, stderr.String())
		}
		return "", fmt.Errorf("%s %v failed: %w", name, args, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// waitForPort pings a TCP port until it's accepting connections or times out.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s: %w", addr, err)
		}
		time.Sleep(150 * time.Millisecond)
	}
}

// startContainer builds the image from the repo root Dockerfile and runs
// bootstrap under the RIE. The container is removed when tb finishes.
func startContainer(tb testing.TB, ctx context.Context, env ...string) string {
	tb.Helper()
	if _, err := runCmd(ctx, "podman", "build", "-t", imageName, "-f", "../Dockerfile", ".."); err != nil {
		tb.Fatalf("podman build failed: %v", err)
	}

	args := []string{"run", "-d", "-p", "9000:8080"}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	args = append(args, "--entrypoint", "/usr/local/bin/aws-lambda-rie", imageName+":latest", "./bootstrap")
	containerID, err := runCmd(ctx, "podman", args...)
	if err != nil {
		tb.Fatalf("podman run failed: %v", err)
	}
	tb.Cleanup(func() { _, _ = runCmd(context.Background(), "podman", "rm", "-f", containerID) })

	if err := waitForPort(rieAddr, 20*time.Second); err != nil {
		tb.Fatalf("RIE did not become ready: %v", err)
	}
	return containerID
}

func apiGatewayPayload(tb testing.TB, sourceIP string) string {
	tb.Helper()
	s, err := jsoniter.MarshalToString(events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/hello",
		RequestContext: events.APIGatewayProxyRequestContext{
			Stage:    "bench",
			Identity: events.APIGatewayRequestIdentity{SourceIP: sourceIP},
		},
	})
	if err != nil {
		tb.Fatal(err)
	}
	return s
}

// invokeOnce posts payload to the RIE endpoint and returns the response body.
func invokeOnce(client *http.Client, payload string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, invokeURL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func containerLogs(ctx context.Context, containerID string, since time.Time) (string, error) {
	args := []string{"logs"}
	if !since.IsZero() {
		args = append(args, "--since", since.Format(time.RFC3339Nano))
	}
	return runCmd(ctx, "podman", append(args, containerID)...)
}

// parseReportLines extracts RequestId, Duration and Billed Duration from RIE logs.
func parseReportLines(logText string) map[string]reportMetrics {
	out := make(map[string]reportMetrics)
	scanner := bufio.NewScanner(strings.NewReader(logText))
	for scanner.Scan() {
		line := scanner.Text()
		m := reRID.FindStringSubmatch(line)
		if len(m) != 2 {
			continue
		}
		rid := strings.TrimSpace(m[1])

		// Init Duration would otherwise match the Duration pattern
		clean := reInit.ReplaceAllString(line, "")
		rm := reportMetrics{RequestID: rid}
		if m := reDur.FindStringSubmatch(clean); len(m) == 2 {
			rm.DurationMs, _ = strconv.ParseFloat(m[1], 64)
		}
		if m := reBill.FindStringSubmatch(clean); len(m) == 2 {
			rm.BilledDurationMs, _ = strconv.ParseFloat(m[1], 64)
		}
		out[rid] = rm
	}
	return out
}

// parseInvocationMetrics scans JSON lines with message=="invocation.metrics".
func parseInvocationMetrics(logText string) map[string]invocationMetrics {
	out := make(map[string]invocationMetrics)
	scanner := bufio.NewScanner(strings.NewReader(logText))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, `"invocation.metrics"`) {
			continue
		}
		var m invocationMetrics
		if err := jsoniter.UnmarshalFromString(line, &m); err != nil {
			continue
		}
		if m.Message == "invocation.metrics" && m.RequestID != "" {
			out[m.RequestID] = m
		}
	}
	return out
}

// runtimeLines returns the "[runtime] ..." lines in the order they were logged.
func runtimeLines(logText string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(logText))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); strings.HasPrefix(line, "[runtime] ") {
			out = append(out, line)
		}
	}
	return out
}

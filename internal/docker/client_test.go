package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// mockAPI is a scripted APIClient.
type mockAPI struct {
	pingErr   error
	images    []image.Summary
	pullBody  string
	pullErr   error
	createErr error
	startErr  error
	exitCode  int64
	waitErr   error
	logStdout string
	logStderr string
	removed   []string
}

func (m *mockAPI) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, m.pingErr
}

func (m *mockAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return m.images, nil
}

func (m *mockAPI) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	if m.pullErr != nil {
		return nil, m.pullErr
	}
	return io.NopCloser(bytes.NewBufferString(m.pullBody)), nil
}

func (m *mockAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	if m.createErr != nil {
		return container.CreateResponse{}, m.createErr
	}
	return container.CreateResponse{ID: "ctr-1"}, nil
}

func (m *mockAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return m.startErr
}

func (m *mockAPI) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if m.waitErr != nil {
		errCh <- m.waitErr
	} else {
		waitCh <- container.WaitResponse{StatusCode: m.exitCode}
	}
	return waitCh, errCh
}

func (m *mockAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if m.logStdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(m.logStdout))
	}
	if m.logStderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(m.logStderr))
	}
	return io.NopCloser(&buf), nil
}

func (m *mockAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	m.removed = append(m.removed, containerID)
	return nil
}

func (m *mockAPI) Close() error { return nil }

func TestCheckDaemon(t *testing.T) {
	c := NewClientWithAPI(&mockAPI{})
	if err := c.CheckDaemon(context.Background()); err != nil {
		t.Errorf("CheckDaemon failed: %v", err)
	}

	c = NewClientWithAPI(&mockAPI{pingErr: errors.New("connection refused")})
	if err := c.CheckDaemon(context.Background()); err == nil {
		t.Error("Expected error when daemon is unreachable")
	}
}

func TestCheckImageNormalizesTag(t *testing.T) {
	api := &mockAPI{images: []image.Summary{
		{RepoTags: []string{"aquasec/trivy:latest", "alpine:3.18"}},
	}}
	c := NewClientWithAPI(api)

	found, err := c.CheckImage(context.Background(), "aquasec/trivy")
	if err != nil {
		t.Fatalf("CheckImage failed: %v", err)
	}
	if !found {
		t.Error("Expected bare ref to match the :latest tag")
	}

	found, _ = c.CheckImage(context.Background(), "alpine:3.18")
	if !found {
		t.Error("Expected exact tag match")
	}

	found, _ = c.CheckImage(context.Background(), "alpine:3.17")
	if found {
		t.Error("Expected no match for different tag")
	}
}

func TestPullImageReportsStreamErrors(t *testing.T) {
	c := NewClientWithAPI(&mockAPI{pullBody: `{"status":"Pulling"}{"status":"Downloaded"}`})
	if err := c.PullImage(context.Background(), "aquasec/trivy:latest"); err != nil {
		t.Errorf("PullImage failed: %v", err)
	}

	c = NewClientWithAPI(&mockAPI{pullBody: `{"status":"Pulling"}{"error":"manifest unknown","errorDetail":{"message":"manifest unknown"}}`})
	if err := c.PullImage(context.Background(), "aquasec/trivy:bad"); err == nil {
		t.Error("Expected error from jsonmessage stream")
	}
}

func TestRunOnce(t *testing.T) {
	api := &mockAPI{exitCode: 1, logStdout: `{"Results":[]}`, logStderr: "warning: stale cache\n"}
	c := NewClientWithAPI(api)

	result, err := c.RunOnce(context.Background(), "aquasec/trivy:latest",
		[]string{"sbom", "/scan/sbom.json"}, []string{"/tmp/work:/scan"}, nil)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", result.ExitCode)
	}
	if result.Stdout != `{"Results":[]}` {
		t.Errorf("Unexpected stdout: %q", result.Stdout)
	}
	if result.Stderr != "warning: stale cache\n" {
		t.Errorf("Unexpected stderr: %q", result.Stderr)
	}
	if len(api.removed) != 1 || api.removed[0] != "ctr-1" {
		t.Errorf("Expected container removed, got %v", api.removed)
	}
}

func TestRunOnceRemovesContainerOnFailure(t *testing.T) {
	api := &mockAPI{startErr: errors.New("no such image")}
	c := NewClientWithAPI(api)

	_, err := c.RunOnce(context.Background(), "aquasec/trivy:latest", nil, nil, nil)
	if err == nil {
		t.Fatal("Expected start error")
	}
	if len(api.removed) != 1 {
		t.Error("Container must be removed even when start fails")
	}
}

func TestRunOnceWaitError(t *testing.T) {
	api := &mockAPI{waitErr: errors.New("daemon shutting down")}
	c := NewClientWithAPI(api)

	_, err := c.RunOnce(context.Background(), "aquasec/trivy:latest", nil, nil, nil)
	if err == nil {
		t.Error("Expected wait error to propagate")
	}
	if len(api.removed) != 1 {
		t.Error("Container must be removed after wait failure")
	}
}

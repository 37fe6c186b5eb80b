package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/panyam/classdraw/config"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// startServer serves a fresh data dir until the test ends and returns its
// base url.
func startServer(t *testing.T) string {
	t.Helper()
	cfg, err := config.Load("", "")
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()
	cfg.Store = services.BackendFS
	cfg.TemplatesDir = "../../../web/templates"
	cfg.FlushInterval = 50 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, nil, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return "http://" + ln.Addr().String()
}

func createDiagram(t *testing.T, base string, snap *diagram.Snapshot) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"name": snap.Name, "snapshot": snap})
	require.NoError(t, err)
	resp, err := http.Post(base+"/api/diagrams", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var d services.Diagram
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	return d.Id
}

func fetchSnapshot(t *testing.T, base, id string) *diagram.Snapshot {
	t.Helper()
	resp, err := http.Get(base + "/api/diagrams/" + id + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap diagram.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return &snap
}

func TestConnect_EditsReachServer(t *testing.T) {
	base := startServer(t)
	id := createDiagram(t, base, zoo())

	input := "add Cat 40 40\n# comment\nselect d\nmove 5 5\nfrobnicate\nmove x 1\n"
	out, err := runWithInput(t, input, "connect", id, "--server", base, "--session", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "= synced")
	assert.Contains(t, out, "+ class Cat")
	assert.Contains(t, out, "~ d moved to (5, 5)")
	assert.Contains(t, out, `error: unknown command: "frobnicate"`)
	assert.Contains(t, out, `error: invalid number "x"`)

	assert.Eventually(t, func() bool {
		snap := fetchSnapshot(t, base, id)
		if len(snap.Nodes) != 3 {
			return false
		}
		for _, n := range snap.Nodes {
			if n.ID == "d" {
				return n.Position == diagram.Point{X: 5, Y: 5}
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConnect_UnknownDiagram(t *testing.T) {
	base := startServer(t)
	_, err := runWithInput(t, "", "connect", "nope", "--server", base, "--timeout", "300ms")
	assert.ErrorContains(t, err, "no snapshot of diagram nope")
}

func TestConnect_BadServer(t *testing.T) {
	_, err := runWithInput(t, "", "connect", "d1", "--server", "ftp://example.com")
	assert.ErrorContains(t, err, "scheme must be http or https")
}

func TestLiveURL(t *testing.T) {
	u, err := liveURL("https://draw.example.com/base/", "d 1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "wss://draw.example.com/base/ws/diagrams/d%201?session=s1", u)

	u, err = liveURL("http://localhost:8080", "d1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/diagrams/d1?session=s1", u)
}

func TestDialAddress(t *testing.T) {
	assert.Equal(t, "localhost:8080", dialAddress(":8080"))
	assert.Equal(t, "localhost:8080", dialAddress("0.0.0.0:8080"))
	assert.Equal(t, "10.0.0.2:9000", dialAddress("10.0.0.2:9000"))
	assert.Equal(t, "weird", dialAddress("weird"))
}

func TestConnect_SyncedUndo(t *testing.T) {
	t.Setenv("CLASSDRAW_SYNC_UNDO", "true")
	base := startServer(t)
	id := createDiagram(t, base, zoo())

	_, err := runWithInput(t, "add Cat\nadd Owl\nundo\n", "connect", id, "--server", base)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var names []string
		for _, n := range fetchSnapshot(t, base, id).Nodes {
			names = append(names, n.Data.Name)
		}
		return assert.ObjectsAreEqual([]string{"Animal", "Dog", "Cat"}, names)
	}, 3*time.Second, 20*time.Millisecond, "the undone add is removed on the server too")
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vm-pricedb/internal/config"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

type fakeApp struct {
	cfg     config.Config
	runErr  error
	served  bool
	closed  bool
	runOnce int
}

func (a *fakeApp) RunOnce(context.Context) (pricedb.Run, error) {
	a.runOnce++
	if a.runErr != nil {
		return pricedb.Run{Status: pricedb.RunFailed}, a.runErr
	}
	return pricedb.Run{Status: pricedb.RunSucceeded, Records: 42, ArtifactURI: "file:///tmp/" + a.cfg.Output.Path}, nil
}

func (a *fakeApp) Serve(context.Context) error {
	a.served = true
	return nil
}

func (a *fakeApp) Close(context.Context) error {
	a.closed = true
	return nil
}

// withFakeApp swaps the application factory; tests using it must not run in parallel.
func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		app.cfg = cfg
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildCommandAppliesFlags(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	out, err := execute(t, "build", "--output", "out/vms.json", "--region", "eastus", "--region", "westus", "--progress")

	require.NoError(t, err)
	require.Equal(t, 1, app.runOnce)
	require.True(t, app.closed)
	require.Equal(t, "out/vms.json", app.cfg.Output.Path)
	require.Equal(t, []string{"eastus", "westus"}, app.cfg.Regions)
	require.True(t, app.cfg.Progress.BarEnabled)
	require.Contains(t, out, "wrote 42 records to file:///tmp/out/vms.json")
}

func TestBuildCommandReportsFailure(t *testing.T) {
	app := &fakeApp{runErr: errors.New("list regions: unauthorized")}
	withFakeApp(t, app)

	_, err := execute(t, "build")

	require.ErrorContains(t, err, "unauthorized")
	require.True(t, app.closed)
}

func TestServeCommandOverridesPort(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "serve", "--port", "9191")

	require.NoError(t, err)
	require.True(t, app.served)
	require.True(t, app.closed)
	require.Equal(t, 9191, app.cfg.Server.Port)
}

func TestRootRejectsMissingConfigFile(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "build", "--config", filepath.Join(t.TempDir(), "missing.yaml"))

	require.ErrorContains(t, err, "load config")
}

func TestReportCommandRendersTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vms.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"region":"centralindia","sku":"Standard_E8as_v5","vcpu":8,"ram":64,"price":0.5},
  {"region":"centralindia","sku":"Standard_E4as_v5","vcpu":4,"ram":32,"price":0.25},
  {"region":"eastus","sku":"Standard_E4as_v5","vcpu":4,"ram":32,"price":0.226}
]`), 0o600))

	out, err := execute(t, "report", "--file", path, "--region", "centralindia",
		"--sku", "Standard_E4as_v5", "--sku", "Standard_E8as_v5")

	require.NoError(t, err)
	require.Contains(t, out, "Hours for $100")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	e4 := strings.Index(out, "Standard_E4as_v5")
	e8 := strings.Index(out, "Standard_E8as_v5")
	require.Less(t, e4, e8)
	require.Contains(t, out, "400 hrs")
	require.Contains(t, out, "200 hrs")
	require.NotContains(t, out, "eastus")
}

func TestReportCommandNoMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vms.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	out, err := execute(t, "report", "--file", path, "--sku", "Standard_Nope")

	require.NoError(t, err)
	require.Contains(t, out, "no matching records")
}

func TestReportCommandRejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"}`), 0o600))

	_, err := execute(t, "report", "--file", path)
	require.ErrorContains(t, err, "decode database")

	_, err = execute(t, "report", "--file", path, "--budget", "0")
	require.ErrorContains(t, err, "--budget")
}

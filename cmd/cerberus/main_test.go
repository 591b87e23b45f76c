package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/route"
)

const droneTopology = `
nodes:
  - id: Drone1
    neighbors: [Drone2, Drone3]
  - id: Drone2
    neighbors: [Drone1, Drone4]
  - id: Drone3
    neighbors: [Drone1, Drone4, BaseStation]
  - id: Drone4
    neighbors: [Drone2, Drone3, BaseStation]
  - id: BaseStation
    neighbors: [Drone3, Drone4]
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTopology(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(droneTopology), 0o600))
	return path
}

func TestKeygen(t *testing.T) {
	key := filepath.Join(t.TempDir(), "drone.key")
	out, err := run(t, "keygen", "Drone1", "--out", key, "--suite", "hpke-dilithium3")
	require.NoError(t, err)
	assert.Contains(t, out, "fingerprint")

	id, err := identity.Load(key)
	require.NoError(t, err)
	assert.Equal(t, identity.NodeID("Drone1"), id.ID)
	assert.Equal(t, "hpke-dilithium3", id.Suite)
}

func TestPaths(t *testing.T) {
	topo := writeTopology(t)
	out, err := run(t, "paths", "Drone1", "BaseStation", "--topology", topo)
	require.NoError(t, err)
	assert.Contains(t, out, "Drone1->Drone3->BaseStation")
	assert.Contains(t, out, "Drone1->Drone2->Drone4->Drone3->BaseStation")

	out, err = run(t, "paths", "Drone1", "BaseStation", "--topology", topo, "--max-hops", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "Drone4")

	_, err = run(t, "paths", "Drone1", "BaseStation", "--topology", topo, "--max-hops", "1")
	assert.ErrorIs(t, err, route.ErrNoPathFound)
}

func TestPathsRequiresTopology(t *testing.T) {
	_, err := run(t, "paths", "A", "B")
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	topo := writeTopology(t)
	out, err := run(t, "simulate", "Drone1", "BaseStation", "Telemetry data: All systems nominal.", "--topology", topo)
	require.NoError(t, err)
	assert.Contains(t, out, "selected Drone1->Drone3->BaseStation")
	assert.Contains(t, out, `delivered "Telemetry data: All systems nominal."`)
	assert.Contains(t, out, "proofs verified 1/1")
}

func TestNodeWithoutKeyfile(t *testing.T) {
	_, err := run(t, "send", "B", "hi", "--key", filepath.Join(t.TempDir(), "absent.key"), "--discovery=false")
	assert.Error(t, err)
}

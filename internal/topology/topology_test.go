package topology

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/identity"
)

const droneTopology = `
nodes:
  - id: Drone1
    addr: 127.0.0.1:7001
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

func TestParse(t *testing.T) {
	f, err := Parse([]byte(droneTopology))
	require.NoError(t, err)
	require.Len(t, f.Nodes, 5)
	assert.Equal(t, "127.0.0.1:7001", f.Nodes[0].Addr)

	v := f.View()
	assert.Equal(t, []identity.NodeID{"Drone1", "Drone4", "BaseStation"}, v.Neighbors("Drone3"))
	assert.Nil(t, v.Neighbors("Ghost"))
	assert.Equal(t, []identity.NodeID{"BaseStation", "Drone1", "Drone2", "Drone3", "Drone4"}, v.Nodes())
}

func TestParseRejectsBadTopology(t *testing.T) {
	tests := map[string]string{
		"unknown neighbor": "nodes:\n  - id: A\n    neighbors: [B]\n",
		"duplicate":        "nodes:\n  - id: A\n  - id: A\n",
		"missing id":       "nodes:\n  - neighbors: []\n",
		"not yaml":         "nodes: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(droneTopology), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Nodes, 5)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTableLinkUnlink(t *testing.T) {
	tbl := NewTable()
	tbl.Link("A", "B")
	tbl.Link("A", "B")
	tbl.Link("A", "C")
	tbl.Link("A", "A")

	assert.Equal(t, []identity.NodeID{"B", "C"}, tbl.Neighbors("A"))
	assert.Equal(t, []identity.NodeID{"A"}, tbl.Neighbors("B"))

	tbl.Unlink("A", "B")
	assert.Equal(t, []identity.NodeID{"C"}, tbl.Neighbors("A"))
	assert.Empty(t, tbl.Neighbors("B"))

	tbl.SetNeighbors("D", []identity.NodeID{"A"})
	snap := tbl.Snapshot()
	assert.Equal(t, []identity.NodeID{"A"}, snap.Neighbors("D"))

	tbl.SetNeighbors("D", nil)
	assert.Empty(t, tbl.Neighbors("D"))
	assert.Equal(t, []identity.NodeID{"A"}, snap.Neighbors("D"), "snapshot is detached from the table")
}

func TestTableConcurrentAccess(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			tbl.Link("hub", identity.NodeID(rune('a'+i)))
		}()
		go func() {
			defer wg.Done()
			_ = tbl.Neighbors("hub")
		}()
	}
	wg.Wait()
	assert.Len(t, tbl.Neighbors("hub"), 8)
}

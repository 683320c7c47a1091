package main

import (
	"bytes"
	"testing"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/usecase"
	"github.com/stretchr/testify/assert"
)

func TestRenderReport(t *testing.T) {
	report := usecase.CycleReport{
		CycleID:  "c1",
		Expected: 3,
		Observed: 1,
		Gaps: []inventory.Gap{
			{Key: inventory.Key{SourceID: "courtside", ResourceKey: "games/g1"}, Reason: inventory.GapMissing},
			{Key: inventory.Key{SourceID: "courtside", ResourceKey: "games/g2"}, Reason: inventory.GapStale},
		},
		Enqueued: []ingest.Task{{SourceID: "courtside", ResourceKey: "games/g1"}},
	}

	var buf bytes.Buffer
	renderReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "games/g1")
	assert.Contains(t, out, "games/g2")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "stale")
	assert.Contains(t, out, "expected 3, observed 1")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmds := map[string]bool{}
	for _, c := range []string{serveCmd().Name(), reconcileCmd().Name(), migrateCmd().Name()} {
		cmds[c] = true
	}
	assert.True(t, cmds["serve"])
	assert.True(t, cmds["reconcile"])
	assert.True(t, cmds["migrate"])

	sub := map[string]bool{}
	for _, c := range migrateCmd().Commands() {
		sub[c.Name()] = true
	}
	for _, name := range []string{"up", "down", "goto", "force", "version"} {
		assert.True(t, sub[name], name)
	}
}

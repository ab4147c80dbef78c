package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"republic/internal/agent/ports"
)

func repoConfigs(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

func TestParseManifestFillsDefaults(t *testing.T) {
	m, err := ParseManifest([]byte(`
agent_id: qa.checker
capabilities: [read_file]
created: 2025-07-01T00:00:00Z
`), ports.BuiltinDefaults())
	require.NoError(t, err)

	assert.Equal(t, "qa.checker", m.AgentID)
	assert.Equal(t, ports.DefaultMaxSteps, m.MaxSteps)
	assert.Equal(t, ports.DefaultToolTimeoutMs, m.ToolTimeoutMs)
	assert.Equal(t, ports.DefaultCostBudgetUSD, m.CostBudgetUSD)
	assert.Equal(t, ports.DefaultScratchpadMaxTokens, m.Memory.ScratchpadMaxTokens)
}

func TestParseManifestKeepsExplicitZeroLimits(t *testing.T) {
	m, err := ParseManifest([]byte(`{"agent_id": "qa.zero", "capabilities": [], "max_steps": 0, "cost_budget_usd": 0}`), ports.BuiltinDefaults())
	require.NoError(t, err)
	assert.Zero(t, m.MaxSteps)
	assert.Zero(t, m.CostBudgetUSD)
}

func TestParseManifestSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing agent id":   "capabilities: [read_file]\n",
		"negative steps":     "agent_id: a\ncapabilities: []\nmax_steps: -1\n",
		"zero timeout":       "agent_id: a\ncapabilities: []\ntool_timeout_ms: 0\n",
		"unknown field":      "agent_id: a\ncapabilities: []\nsuperpowers: true\n",
		"wrong type":         "agent_id: a\ncapabilities: read_file\n",
		"uppercase agent id": "agent_id: Agent\ncapabilities: []\n",
	}
	for name, doc := range cases {
		_, err := ParseManifest([]byte(doc), ports.BuiltinDefaults())
		if err == nil {
			t.Fatalf("%s: expected schema error", name)
		}
		if !strings.Contains(err.Error(), "does not match schema") {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}

func TestParseManifestRejectsGarbage(t *testing.T) {
	_, err := ParseManifest([]byte("::: not yaml"), ports.BuiltinDefaults())
	assert.Error(t, err)
	_, err = ParseManifest(nil, ports.BuiltinDefaults())
	assert.Error(t, err)
}

func TestLoadCatalogFromRepository(t *testing.T) {
	catalog, err := LoadCatalog(repoConfigs(t), ports.BuiltinDefaults())
	require.NoError(t, err)

	assert.Contains(t, catalog.AgentIDs(), "workshop.landing_page_builder")
	assert.Empty(t, catalog.Check())

	m, err := catalog.Agent("workshop.landing_page_builder")
	require.NoError(t, err)
	assert.Equal(t, 30, m.MaxSteps)
	assert.NotContains(t, m.Capabilities, "publish_deploy")

	district, ok := catalog.District("workshop")
	require.True(t, ok)
	assert.Equal(t, 4, district.MaxConcurrency)

	_, err = catalog.Agent("nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workshop.landing_page_builder")
}

func TestRepositoryCatalogCoversEveryDistrict(t *testing.T) {
	catalog, err := LoadCatalog(repoConfigs(t), ports.BuiltinDefaults())
	require.NoError(t, err)
	require.Empty(t, catalog.Check())

	assert.Len(t, catalog.AgentIDs(), 15)
	var ids []string
	for _, d := range catalog.Districts() {
		ids = append(ids, d.ID)
		assert.NotEmpty(t, d.Agents, d.ID)
	}
	assert.Equal(t, []string{"automation", "foundry", "operations", "research", "workshop"}, ids)

	m, err := catalog.Agent("foundry.model_trainer")
	require.NoError(t, err)
	assert.Equal(t, 300000, m.ToolTimeoutMs)
	assert.Equal(t, 5.0, m.CostBudgetUSD)
	assert.Contains(t, m.DeniedCapabilities, "open_url")

	qa, err := catalog.Agent("workshop.visual_qa_agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"open_url", "screenshot", "extract_text", "read_file"}, qa.Capabilities)
}

func TestDistrictRestrictsCapabilities(t *testing.T) {
	d, err := ParseDistrict([]byte("id: lab\nname: Lab\nagents: [lab.a]\ntool_allowlist: [read_file]\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, d.MaxConcurrency)

	m := d.Restrict(ports.Manifest{AgentID: "lab.a", Capabilities: []string{"read_file", "write_file"}})
	assert.Equal(t, []string{"read_file"}, m.Capabilities)

	catalog := NewCatalog()
	catalog.AddDistrict(d)
	catalog.AddAgent(ports.Manifest{AgentID: "lab.b", District: "attic"})
	problems := catalog.Check()
	assert.Len(t, problems, 2)
}

func TestParseDistrictRequiresName(t *testing.T) {
	_, err := ParseDistrict([]byte("id: lab\nagents: []\n"))
	require.Error(t, err)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"republic/internal/agent/ports"
)

// District groups agents that share a tool allowlist and a concurrency cap.
type District struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Agents         []string `yaml:"agents" json:"agents"`
	ToolAllowlist  []string `yaml:"tool_allowlist,omitempty" json:"tool_allowlist,omitempty"`
	MaxConcurrency int      `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	EvalSuite      string   `yaml:"eval_suite,omitempty" json:"eval_suite,omitempty"`
}

// Restrict narrows a manifest's capabilities to the district allowlist.
// An empty allowlist leaves the manifest unchanged.
func (d District) Restrict(m ports.Manifest) ports.Manifest {
	if len(d.ToolAllowlist) == 0 {
		return m
	}
	allowed := make(map[string]bool, len(d.ToolAllowlist))
	for _, tool := range d.ToolAllowlist {
		allowed[tool] = true
	}
	capabilities := make([]string, 0, len(m.Capabilities))
	for _, capability := range m.Capabilities {
		if allowed[capability] {
			capabilities = append(capabilities, capability)
		}
	}
	m.Capabilities = capabilities
	return m
}

// ParseDistrict decodes and checks a district document.
func ParseDistrict(data []byte) (District, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return District{}, fmt.Errorf("parse district: %w", err)
	}
	if doc == nil {
		return District{}, fmt.Errorf("parse district: document is empty")
	}
	if err := schemas.check("district", doc); err != nil {
		return District{}, err
	}
	var district District
	if err := yaml.Unmarshal(data, &district); err != nil {
		return District{}, fmt.Errorf("decode district: %w", err)
	}
	if district.MaxConcurrency == 0 {
		district.MaxConcurrency = 1
	}
	return district, nil
}

// Catalog holds the manifests and districts known to a deployment.
type Catalog struct {
	agents    map[string]ports.Manifest
	districts map[string]District
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{agents: map[string]ports.Manifest{}, districts: map[string]District{}}
}

// AddAgent registers a manifest, replacing any previous one with its id.
func (c *Catalog) AddAgent(m ports.Manifest) {
	c.agents[m.AgentID] = m
}

// AddDistrict registers a district.
func (c *Catalog) AddDistrict(d District) {
	c.districts[d.ID] = d
}

// Agent returns the manifest for id, restricted by its district allowlist.
func (c *Catalog) Agent(id string) (ports.Manifest, error) {
	m, ok := c.agents[id]
	if !ok {
		return ports.Manifest{}, fmt.Errorf("agent %q not registered. Available: %s", id, strings.Join(c.AgentIDs(), ", "))
	}
	if d, ok := c.districts[m.District]; ok {
		m = d.Restrict(m)
	}
	return m, nil
}

// District returns the district with id.
func (c *Catalog) District(id string) (District, bool) {
	d, ok := c.districts[id]
	return d, ok
}

// AgentIDs lists registered agents in sorted order.
func (c *Catalog) AgentIDs() []string {
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Districts lists registered districts sorted by id.
func (c *Catalog) Districts() []District {
	out := make([]District, 0, len(c.districts))
	for _, d := range c.districts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Check cross-references the catalog: every district member must be a
// registered agent and every agent's district must exist.
func (c *Catalog) Check() []string {
	var problems []string
	for _, d := range c.Districts() {
		for _, id := range d.Agents {
			if _, ok := c.agents[id]; !ok {
				problems = append(problems, fmt.Sprintf("district %s lists unknown agent %s", d.ID, id))
			}
		}
	}
	for _, id := range c.AgentIDs() {
		m := c.agents[id]
		if m.District == "" {
			continue
		}
		if _, ok := c.districts[m.District]; !ok {
			problems = append(problems, fmt.Sprintf("agent %s belongs to unknown district %s", id, m.District))
		}
	}
	return problems
}

// LoadCatalog reads every *.yaml, *.yml and *.json file under dir/agents
// and dir/districts. Missing directories are skipped.
func LoadCatalog(dir string, defaults ports.Defaults) (*Catalog, error) {
	catalog := NewCatalog()
	agentFiles, err := documentFiles(filepath.Join(dir, "agents"))
	if err != nil {
		return nil, err
	}
	for _, path := range agentFiles {
		m, err := LoadManifest(path, defaults)
		if err != nil {
			return nil, err
		}
		catalog.AddAgent(m)
	}

	districtFiles, err := documentFiles(filepath.Join(dir, "districts"))
	if err != nil {
		return nil, err
	}
	for _, path := range districtFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read district: %w", err)
		}
		d, err := ParseDistrict(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		catalog.AddDistrict(d)
	}
	return catalog, nil
}

func documentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewflow/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AutoAssignment.Enabled)
	assert.Equal(t, domain.StrategyWorkloadBalanced, cfg.AutoAssignment.StrategyType)
	assert.Equal(t, []string{"admin", "compliance_manager"}, cfg.Auth.AdminRoles)
	assert.Equal(t, []string{"legal"}, cfg.StrategyRouting().Departments[domain.ModuleExpertLegalReview])
	assert.Equal(t, 2*time.Second, cfg.Notifications.PollInterval())
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte(`
reviewers:
  - id: u1
    display_name: Ada
    role: compliance_officer
    department: compliance
retry:
  max_elapsed_ms: 250
`))
	require.NoError(t, err)
	require.Len(t, cfg.Reviewers, 1)
	assert.Equal(t, "u1", cfg.Reviewers[0].ID)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.MaxElapsed())
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialInterval())
	assert.Equal(t, domain.StrategyWorkloadBalanced, cfg.AutoAssignment.StrategyType)
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"unknown strategy": "auto_assignment:\n  strategy: fastest\n",
		"enabled without roles": "auto_assignment:\n  enabled: true\n  eligible_roles: []\n",
		"unknown module type": "routing:\n  departments:\n    invoices: [finance]\n",
		"reviewer without id": "reviewers:\n  - role: r\n    department: d\n",
		"duplicate reviewer": "reviewers:\n  - {id: u1, role: r, department: d}\n  - {id: u1, role: r, department: d}\n",
		"reviewer without department": "reviewers:\n  - {id: u1, role: r}\n",
		"webhook without url": "notifications:\n  webhooks:\n    - name: hook\n",
		"malformed": "auto_assignment: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")
}

func TestLoadOptionalReportsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviewflow.yml"), []byte("auto_assignment:\n  strategy: nope\n"), 0o644))
	_, err := LoadOptional(dir)
	assert.Error(t, err)
}

func TestGeneratedDefaultRoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

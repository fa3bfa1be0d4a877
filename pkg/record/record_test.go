package record_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stratamem/stratamem-go/pkg/record"
)

func TestTier_Valid(t *testing.T) {
	assert.True(t, record.TierFoundation.Valid())
	assert.True(t, record.TierEpisodic.Valid())
	assert.True(t, record.TierCompressed.Valid())
	assert.True(t, record.TierArchive.Valid())

	assert.False(t, record.Tier("T1").Valid())
	assert.False(t, record.Tier("").Valid())
	assert.False(t, record.Tier("t2").Valid())
}

func TestTier_Transitionable(t *testing.T) {
	assert.False(t, record.TierFoundation.Transitionable())
	assert.True(t, record.TierEpisodic.Transitionable())
	assert.True(t, record.TierCompressed.Transitionable())
	assert.True(t, record.TierArchive.Transitionable())
	assert.False(t, record.Tier("T1").Transitionable())
}

func TestNormalizeTopic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Deployment", "deployment"},
		{"trims", "  deployment  ", "deployment"},
		{"collapses inner whitespace", "Deployment  Setup", "deployment-setup"},
		{"tabs and newlines", "deployment\tsetup\nnotes", "deployment-setup-notes"},
		{"already normalized", "deployment-setup", "deployment-setup"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, record.NormalizeTopic(tt.input))
		})
	}
}

func TestNormalizeTopic_NearDuplicatesCollide(t *testing.T) {
	a := record.NormalizeTopic("Deployment  Setup")
	b := record.NormalizeTopic("deployment setup")
	assert.Equal(t, a, b)
}

func TestManifest_InCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := &record.Manifest{}
	assert.False(t, m.InCooldown(now), "zero cooldown is never active")

	m.CooldownUntil = now.Add(time.Hour)
	assert.True(t, m.InCooldown(now))
	assert.False(t, m.InCooldown(now.Add(2*time.Hour)))
	assert.False(t, m.InCooldown(m.CooldownUntil), "cooldown ends at its boundary")
}

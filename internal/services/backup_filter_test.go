package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludeExtensions(t *testing.T) {
	f := ExcludeExtensions(".bak", "tmp")
	assert.True(t, f("Fjordur.bak", nil))
	assert.True(t, f("players/1.profilebak", nil))
	assert.True(t, f("x.TMP", nil))
	assert.False(t, f("Fjordur.ark", nil))
	assert.False(t, f("bak", nil), "no extension")
	assert.False(t, f("bak/Fjordur.ark", nil), "directories named like a marker")
}

func TestExcludeGlobs(t *testing.T) {
	f := ExcludeGlobs("*.log", "Logs/*")
	assert.True(t, f("server.log", nil))
	assert.True(t, f("deep/nested/server.log", nil), "base name match")
	assert.True(t, f("Logs/ShooterGame.txt", nil))
	assert.False(t, f("Fjordur.ark", nil))
}

func TestKeepCanonical(t *testing.T) {
	f := KeepCanonical("Fjordur.ark")
	assert.False(t, f("Fjordur.ark", nil))
	assert.True(t, f("Fjordur_12.10.2024_20.00.00.ark", nil))
	assert.True(t, f("Fjordur_AntiCorruptionBackup.ark", nil))
	assert.False(t, f("TheIsland.ark", nil))
	assert.False(t, f("Fjordur.arktribe", nil), "different extension")
}

func TestAnyOf(t *testing.T) {
	f := AnyOf(nil, ExcludeExtensions("bak"), KeepCanonical("Fjordur.ark"))
	assert.True(t, f("Fjordur.bak", nil))
	assert.True(t, f("Fjordur_old.ark", nil))
	assert.False(t, f("Fjordur.ark", nil))
	assert.False(t, AnyOf()("anything", nil))
}

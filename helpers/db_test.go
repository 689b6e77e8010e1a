package helpers

import (
	"testing"

	"github.com/arkanite/keeper/models"
)

func TestGuildSettingsCachedMissAndHit(t *testing.T) {
	if _, ok := GuildSettingsGetCached("ghost-guild"); ok {
		t.Fatalf("unknown guild reported as cached")
	}

	config := models.GuildConfig{}.Default("known-guild")
	GuildSettingsCachePut("known-guild", config)

	cached, ok := GuildSettingsGetCached("known-guild")
	if !ok {
		t.Fatalf("cached guild not found")
	}
	if cached.GuildID != "known-guild" {
		t.Fatalf("wrong config returned: %s", cached.GuildID)
	}
	if cached.AntiRaid.Threshold != 5 {
		t.Fatalf("defaults lost in the cache: %d", cached.AntiRaid.Threshold)
	}
}

package helpers

import (
	"sync"
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/models"
	"github.com/globalsign/mgo/bson"
	rcache "github.com/go-redis/cache"
)

var (
	guildSettingsCache = make(map[string]models.GuildConfig)
	settingsCacheMutex sync.RWMutex

	// serializes read-modify-write cycles on guild configs so two
	// concurrent field updates cannot lose each other
	settingsUpdateLock = NewKeyLock()
)

const guildConfigRedisKey = "keeper:guild-config:"

// GuildSettingsSet writes $config into the db and refreshes the caches
func GuildSettingsSet(guildID string, config models.GuildConfig) error {
	var settings models.GuildConfig

	err := MdbOne(
		MdbCollection(models.GuildConfigTable).Find(bson.M{"guildid": guildID}),
		&settings,
	)

	if IsMdbNotFound(err) {
		config.ID = ""
		_, err = MDbInsert(models.GuildConfigTable, &config)
	} else if err != nil {
		return err
	} else {
		config.ID = settings.ID
		err = MDbUpdate(models.GuildConfigTable, config.ID, config)
	}
	if err != nil {
		return err
	}

	GuildSettingsCachePut(guildID, config)

	if cache.HasRedisClient() {
		// best effort mirror, the mongo record is the source of truth
		cacheErr := cache.GetRedisCacheCodec().Set(&rcache.Item{
			Key:        guildConfigRedisKey + guildID,
			Object:     config,
			Expiration: time.Hour,
		})
		if cacheErr != nil {
			cache.GetLogger().WithField("module", "db").Warn("failed to mirror guild config to redis: " + cacheErr.Error())
		}
	}

	return nil
}

// GuildSettingsUpdate applies $mutate to the current config of $guildID
// under a per-guild lock and persists the result. Concurrent updates to
// different fields therefore both survive.
func GuildSettingsUpdate(guildID string, mutate func(*models.GuildConfig)) (models.GuildConfig, error) {
	settingsUpdateLock.Lock(guildID)
	defer settingsUpdateLock.Unlock(guildID)

	settings, err := GuildSettingsGet(guildID)
	if err != nil {
		return settings, err
	}

	mutate(&settings)

	return settings, GuildSettingsSet(guildID, settings)
}

// GuildSettingsGet returns the stored config for $guildID or a default
// object if none exists yet
func GuildSettingsGet(guildID string) (models.GuildConfig, error) {
	var settings models.GuildConfig

	err := MdbOne(
		MdbCollection(models.GuildConfigTable).Find(bson.M{"guildid": guildID}),
		&settings,
	)

	if IsMdbNotFound(err) {
		return models.GuildConfig{}.Default(guildID), nil
	}

	return settings, err
}

// GuildSettingsCachePut stores $config in the in-memory cache only.
func GuildSettingsCachePut(guildID string, config models.GuildConfig) {
	settingsCacheMutex.Lock()
	guildSettingsCache[guildID] = config
	settingsCacheMutex.Unlock()
}

// GuildSettingsGetCached returns the cached config for $guildID. The
// second return value is false for guilds the bot does not know, in which
// case events for them are dropped. Misses consult the redis mirror, a
// config written by a sibling process after our prime is still found.
func GuildSettingsGetCached(guildID string) (models.GuildConfig, bool) {
	settingsCacheMutex.RLock()
	settings, ok := guildSettingsCache[guildID]
	settingsCacheMutex.RUnlock()
	if ok {
		return settings, true
	}

	if cache.HasRedisClient() {
		var mirrored models.GuildConfig
		err := cache.GetRedisCacheCodec().Get(guildConfigRedisKey+guildID, &mirrored)
		if err == nil && mirrored.GuildID == guildID {
			GuildSettingsCachePut(guildID, mirrored)
			return mirrored, true
		}
	}

	return models.GuildConfig{}, false
}

// GuildSettingsPrime loads every stored guild config into the cache.
// Called once at startup before events are dispatched.
func GuildSettingsPrime() error {
	var all []models.GuildConfig
	err := MdbAll(MdbCollection(models.GuildConfigTable).Find(nil), &all)
	if err != nil {
		return err
	}

	settingsCacheMutex.Lock()
	for _, settings := range all {
		guildSettingsCache[settings.GuildID] = settings
	}
	settingsCacheMutex.Unlock()

	cache.GetLogger().WithField("module", "db").Infof("primed %d guild configs", len(all))
	return nil
}

// GuildSettingsEnsure creates and caches a default config for guilds the
// bot joins for the first time.
func GuildSettingsEnsure(guildID string) error {
	if _, ok := GuildSettingsGetCached(guildID); ok {
		return nil
	}

	settings, err := GuildSettingsGet(guildID)
	if err != nil {
		return err
	}

	return GuildSettingsSet(guildID, settings)
}

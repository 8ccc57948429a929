/*
 * Copyright (C) 2024, Vizaxe
 *
 * This file is part of objcache.
 *
 * objcache is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * objcache is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package coremain

import (
	"errors"
	"fmt"
	"time"

	"github.com/Vizaxe/objcache/pkg/mlog"
	"github.com/Vizaxe/objcache/pkg/obj_cache"
	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Log       mlog.LogConfig  `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	AccessLog AccessLogConfig `yaml:"access_log"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type CacheConfig struct {
	Prefix          string        `yaml:"prefix"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	DisableCleanup  bool          `yaml:"disable_cleanup"`
}

type StoreConfig struct {
	// Type is one of "s3", "pebble" or "memory".
	Type   string       `yaml:"type"`
	S3     S3Config     `yaml:"s3"`
	Pebble PebbleConfig `yaml:"pebble"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	PageSize     int    `yaml:"page_size"`
}

type PebbleConfig struct {
	Dir      string `yaml:"dir"`
	PageSize int    `yaml:"page_size"`
}

type AccessLogConfig struct {
	// Type is one of "redis", "memcached" or "memory".
	Type      string          `yaml:"type"`
	Redis     RedisConfig     `yaml:"redis"`
	Memcached MemcachedConfig `yaml:"memcached"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	HashKey string        `yaml:"hash_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type MemcachedConfig struct {
	Servers   []string      `yaml:"servers"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

const (
	defaultPrefix = "cache/"
	defaultTTL    = 24 * time.Hour
	defaultListen = "127.0.0.1:8080"
)

func (c *Config) init() error {
	utils.SetDefaultString(&c.Log.Level, "info")
	utils.SetDefaultString(&c.Cache.Prefix, defaultPrefix)
	utils.SetDefaultNum(&c.Cache.TTL, defaultTTL)
	utils.SetDefaultNum(&c.Cache.CleanupInterval, obj_cache.DefaultCleanupInterval)
	utils.SetDefaultString(&c.Store.Type, "memory")
	utils.SetDefaultNum(&c.Store.S3.PageSize, object_store.DefaultPageSize)
	utils.SetDefaultString(&c.Store.Pebble.Dir, "objcache-data")
	utils.SetDefaultNum(&c.Store.Pebble.PageSize, object_store.DefaultPageSize)
	utils.SetDefaultString(&c.AccessLog.Type, "memory")
	utils.SetDefaultString(&c.HTTP.Listen, defaultListen)

	switch c.Store.Type {
	case "s3":
		if len(c.Store.S3.Bucket) == 0 {
			return errors.New("missing s3 bucket")
		}
	case "pebble", "memory":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch c.AccessLog.Type {
	case "redis":
		if len(c.AccessLog.Redis.URL) == 0 {
			return errors.New("missing redis url")
		}
	case "memcached":
		if len(c.AccessLog.Memcached.Servers) == 0 {
			return errors.New("missing memcached servers")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown access log type %q", c.AccessLog.Type)
	}
	return nil
}

// loadConfig reads and validates the config file. If filePath is
// empty, "config.yaml" or any other format viper supports in the
// working directory is used.
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()
	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
		cfg.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.init(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}

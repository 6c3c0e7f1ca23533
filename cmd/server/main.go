package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/couchsync/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	resolverTimeout = configVar[time.Duration]{
		envKey:       "SERVER_RESOLVER_TIMEOUT",
		flagKey:      "resolver-timeout",
		defaultValue: 30 * time.Second,
	}
	sourceCacheTTL = configVar[time.Duration]{
		envKey:       "SERVER_SOURCE_CACHE_TTL",
		flagKey:      "source-cache-ttl",
		defaultValue: 3 * time.Hour,
	}
	roomGracePeriod = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_GRACE_PERIOD",
		flagKey:      "room-grace-period",
		defaultValue: time.Minute,
	}
	proxyTimeout = configVar[time.Duration]{
		envKey:       "SERVER_PROXY_TIMEOUT",
		flagKey:      "proxy-timeout",
		defaultValue: 30 * time.Second,
	}
	chunkStaleAfter = configVar[time.Duration]{
		envKey:       "SERVER_CHUNK_STALE_AFTER",
		flagKey:      "chunk-stale-after",
		defaultValue: 30 * time.Second,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Duration(resolverTimeout.flagKey, resolverTimeout.defaultValue, "External resolver timeout")
	pflag.Duration(sourceCacheTTL.flagKey, sourceCacheTTL.defaultValue, "Resolved media source cache TTL")
	pflag.Duration(roomGracePeriod.flagKey, roomGracePeriod.defaultValue, "Empty room deletion grace period")
	pflag.Duration(proxyTimeout.flagKey, proxyTimeout.defaultValue, "Upstream fetch timeout for the segment proxy")
	pflag.Duration(chunkStaleAfter.flagKey, chunkStaleAfter.defaultValue, "Unclaimed cached chunk lifetime")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(resolverTimeout.flagKey, resolverTimeout.envKey)
	viper.BindEnv(sourceCacheTTL.flagKey, sourceCacheTTL.envKey)
	viper.BindEnv(roomGracePeriod.flagKey, roomGracePeriod.envKey)
	viper.BindEnv(proxyTimeout.flagKey, proxyTimeout.envKey)
	viper.BindEnv(chunkStaleAfter.flagKey, chunkStaleAfter.envKey)

	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)
	viper.SetDefault(resolverTimeout.flagKey, resolverTimeout.defaultValue)
	viper.SetDefault(sourceCacheTTL.flagKey, sourceCacheTTL.defaultValue)
	viper.SetDefault(roomGracePeriod.flagKey, roomGracePeriod.defaultValue)
	viper.SetDefault(proxyTimeout.flagKey, proxyTimeout.defaultValue)
	viper.SetDefault(chunkStaleAfter.flagKey, chunkStaleAfter.defaultValue)

	config := &app.AppConfig{
		Host:            viper.GetString(host.flagKey),
		Port:            viper.GetInt(port.flagKey),
		LogLevel:        viper.GetString(logLevel.flagKey),
		RedisHost:       viper.GetString(redisHost.flagKey),
		RedisPort:       viper.GetInt(redisPort.flagKey),
		RedisPassword:   viper.GetString(redisPassword.flagKey),
		ResolverTimeout: viper.GetDuration(resolverTimeout.flagKey),
		SourceCacheTTL:  viper.GetDuration(sourceCacheTTL.flagKey),
		RoomGracePeriod: viper.GetDuration(roomGracePeriod.flagKey),
		ProxyTimeout:    viper.GetDuration(proxyTimeout.flagKey),
		ChunkStaleAfter: viper.GetDuration(chunkStaleAfter.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}

package config

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// LookupFunc reads one environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PATCHFIELD_"

// ApplyEnvironment overlays PATCHFIELD_* variables onto c. Invalid values are
// logged and skipped.
func ApplyEnvironment(c *Config, lookup LookupFunc) {
	envInt(lookup, "SAMPLE_RATE", &c.SampleRate, MinSampleRate, MaxSampleRate)
	envInt(lookup, "BUFFER_SIZE", &c.BufferSize, MinBufferSize, MaxBufferSize)
	envInt(lookup, "INPUT_CHANNELS", &c.InputChannels, 0, MaxDeviceChannels)
	envInt(lookup, "OUTPUT_CHANNELS", &c.OutputChannels, 0, MaxDeviceChannels)
	envString(lookup, "RENDEZVOUS", &c.Rendezvous, false)
	envDuration(lookup, "WATCHDOG_TIMEOUT", &c.WatchdogTimeout, MinWatchdogTimeout, MaxWatchdogTimeout)
	envInt(lookup, "HANDSHAKE_RETRIES", &c.HandshakeRetries, MinHandshakeRetries, MaxHandshakeRetries)
	envDuration(lookup, "HANDSHAKE_INTERVAL", &c.HandshakeInterval, MinHandshakeInterval, MaxHandshakeInterval)
	envString(lookup, "ADMIN_ADDR", &c.AdminAddr, true)
	envString(lookup, "REDIS_ADDR", &c.Redis.Addr, true)
	envString(lookup, "REDIS_PASSWORD", &c.Redis.Password, true)
	envInt(lookup, "REDIS_DB", &c.Redis.DB, 0, 15)
	envString(lookup, "REDIS_CHANNEL", &c.Redis.Channel, false)
	envLevel(lookup, "LOG_LEVEL", &c.LogLevel)
	envFormat(lookup, "LOG_FORMAT", &c.LogFormat)
}

func rejected(key, value string, using any, err error, msg string) {
	fields := logrus.Fields{
		"function":    "ApplyEnvironment",
		"env_var":     EnvPrefix + key,
		"value":       value,
		"using_value": using,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Warn(msg)
}

func envInt(lookup LookupFunc, key string, dst *int, lo, hi int) {
	raw, ok := lookup(EnvPrefix + key)
	if !ok || raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		rejected(key, raw, *dst, err, "Failed to parse environment variable, using default")
		return
	}
	if v < lo || v > hi {
		rejected(key, raw, *dst, nil, "Environment variable out of bounds, using default")
		return
	}
	*dst = v
}

func envDuration(lookup LookupFunc, key string, dst *time.Duration, lo, hi time.Duration) {
	raw, ok := lookup(EnvPrefix + key)
	if !ok || raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		rejected(key, raw, *dst, err, "Failed to parse environment variable, using default")
		return
	}
	if v < lo || v > hi {
		rejected(key, raw, *dst, nil, "Environment variable out of bounds, using default")
		return
	}
	*dst = v
}

// envString applies a set variable. An empty value clears dst only when
// allowEmpty is set; ADMIN_ADDR="" disables the admin server that way.
func envString(lookup LookupFunc, key string, dst *string, allowEmpty bool) {
	raw, ok := lookup(EnvPrefix + key)
	if !ok {
		return
	}
	if raw == "" && !allowEmpty {
		rejected(key, raw, *dst, nil, "Environment variable must not be empty, using default")
		return
	}
	*dst = raw
}

func envLevel(lookup LookupFunc, key string, dst *string) {
	raw, ok := lookup(EnvPrefix + key)
	if !ok || raw == "" {
		return
	}
	if _, err := logrus.ParseLevel(raw); err != nil {
		rejected(key, raw, *dst, err, "Failed to parse environment variable, using default")
		return
	}
	*dst = raw
}

func envFormat(lookup LookupFunc, key string, dst *string) {
	raw, ok := lookup(EnvPrefix + key)
	if !ok || raw == "" {
		return
	}
	if raw != "text" && raw != "json" {
		rejected(key, raw, *dst, nil, "Unknown log format, using default")
		return
	}
	*dst = raw
}

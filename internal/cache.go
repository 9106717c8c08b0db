package internal

import (
	"fmt"
	"hash/crc32"
	"time"

	"context"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var rdb *redis.Client
var ctx = context.Background()
var memCache *cache.Cache

var redisDataExpiration time.Duration
var memoryDataExpiration time.Duration

var redisInitialized bool

// InitCache initializes the tiered cache. The first tier is an in-memory
// cache with a short expiration, the second tier is a redis sentinel setup.
func InitCache(redisURI string, redisURI2 string, redisURI3 string, redisPassword string, redisDB int, dryRun string) {

	if dryRun == "True" || dryRun == "true" {
		zap.S().Infof("Running cache in DRY_RUN mode. This means that only the memory tier will be used")
		InitMemcache()
		return
	}

	var failOverOptions = redis.FailoverOptions{
		MasterName:       "mymaster",
		SentinelAddrs:    []string{redisURI, redisURI2, redisURI3},
		SentinelPassword: redisPassword,
		Password:         redisPassword,
		DB:               redisDB,
	}
	zap.S().Debugf("Initializing redis cache with options: %#v", failOverOptions)

	rdb = redis.NewFailoverClient(&failOverOptions)

	redisDataExpiration = 12 * time.Hour
	memoryDataExpiration = 10 * time.Second

	memCache = cache.New(memoryDataExpiration, 20*time.Second)
	redisInitialized = true
}

// InitMemcache initializes only the memory tier, used in tests
func InitMemcache() {
	memoryDataExpiration = 10 * time.Second
	memCache = cache.New(memoryDataExpiration, 20*time.Second)
	redisInitialized = false
}

func IsRedisAvailable() bool {
	if !redisInitialized {
		zap.S().Warn("Redis is not initialized")
		return false
	}
	if rdb != nil {
		zap.S().Debugf("Checking if redis is available")
		timeout, cncl := context.WithTimeout(ctx, time.Second*10)
		defer cncl()
		statusCmd := rdb.Ping(timeout)

		if statusCmd != nil && statusCmd.Val() == "PONG" {
			zap.S().Debugf("Redis is available")
			return true
		}
		zap.S().Debugf("Redis Error: %s", statusCmd)
	}
	return false
}

// AsHash returns a hash for a given interface
func AsHash(o interface{}) string {
	h := crc32.NewIEEE() // modified for quicker hashing
	// This cannot fail
	_, _ = h.Write([]byte(fmt.Sprintf("%v", o)))

	return fmt.Sprintf("%x", h.Sum(nil))
}

// GetTiered attempts to get key from the memory cache, if that fails it falls
// back to redis and writes any hit back into the memory tier
func GetTiered(key string) (cached bool, value interface{}) {
	value, cached = memCache.Get(key)
	if cached {
		zap.S().Debugf("Found in memcache")
		return
	}

	if !redisInitialized {
		return false, nil
	}

	var err error
	d := time.Now().Add(memoryDataExpiration)
	deadlineCtx, cancel := context.WithDeadline(context.Background(), d)
	defer cancel()

	value, err = rdb.Get(deadlineCtx, key).Bytes()
	if err != nil {
		zap.S().Debugf("Not found in redis")
		return false, nil
	}
	cached = true
	zap.S().Debugf("Found in redis")

	memCache.SetDefault(key, value)
	return
}

// SetTiered sets memcache and redis with expiration
func SetTiered(key string, value interface{}, redisExpiration time.Duration) {
	memCache.SetDefault(key, value)
	if redisInitialized {
		rdb.Set(ctx, key, value, redisExpiration)
	}
}

// SetTieredLongTerm is a helper, that calls SetTiered with default redis expiration
func SetTieredLongTerm(key string, value interface{}) {
	SetTiered(key, value, redisDataExpiration)
}

// SetTieredShortTerm is a helper, that calls SetTiered with default memory expiration
func SetTieredShortTerm(key string, value interface{}) {
	SetTiered(key, value, memoryDataExpiration)
}

// GetTieredStruct unmarshals a tiered cache hit into target. The redis tier
// only stores bytes, so values always round-trip through JSON.
func GetTieredStruct(key string, target interface{}) bool {
	cached, value := GetTiered(key)
	if !cached {
		return false
	}
	raw, ok := value.([]byte)
	if !ok {
		return false
	}
	err := json.Unmarshal(raw, target)
	if err != nil {
		zap.S().Warnf("Failed to unmarshal cached value for %s: %s", key, err)
		return false
	}
	return true
}

// SetTieredStruct marshals value and stores it in both tiers
func SetTieredStruct(key string, value interface{}, redisExpiration time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		zap.S().Warnf("Failed to marshal value for %s: %s", key, err)
		return
	}
	SetTiered(key, raw, redisExpiration)
}

func SetMemcached(key string, value interface{}) {
	memCache.SetDefault(key, value)
}

func GetMemcached(key string) (value interface{}, found bool) {
	value, found = memCache.Get(key)
	return
}

func SetMemcachedLong(key string, value interface{}, d time.Duration) {
	memCache.Set(key, value, d)
}

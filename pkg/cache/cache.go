// Package cache wraps the Redis connection pool shared by the relay token
// broker, the tunnel server, and the advisory decision cache. The cache is
// advisory infrastructure: when Redis is unreachable callers see a miss (or
// an explicit error on writes) and must never fall back to guessing.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/spf13/viper"
)

var ErrMiss = errors.New("cache: key not found")

type Cache struct {
	pool *redis.Pool
}

func NewCache() (*Cache, error) {
	addr := viper.GetString("redis.addr")

	dialOptions := []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialDatabase(viper.GetInt("redis.db")),
	}
	if user := viper.GetString("redis.user"); user != "" {
		dialOptions = append(dialOptions, redis.DialUsername(user))
	}
	if pwd := viper.GetString("redis.password"); pwd != "" {
		dialOptions = append(dialOptions, redis.DialPassword(pwd))
	}

	c := &Cache{
		pool: &redis.Pool{
			MaxIdle:     3,
			MaxActive:   16,
			IdleTimeout: 60 * time.Second,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr, dialOptions...)
			},
		},
	}

	conn := c.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %v", addr, err)
	}

	return c, nil
}

// SetEX stores value under key with a TTL. A failed write is surfaced: the
// token broker depends on the promise that a stored session will resolve.
func (c *Cache) SetEX(key string, ttl time.Duration, value string) error {
	conn := c.pool.Get()
	defer conn.Close()

	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if _, err := conn.Do("SETEX", key, seconds, value); err != nil {
		return fmt.Errorf("cache write for %q failed: %v", key, err)
	}
	return nil
}

// Get returns the value under key, or ErrMiss when the key is absent or
// expired.
func (c *Cache) Get(key string) (string, error) {
	conn := c.pool.Get()
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", key))
	if err == redis.ErrNil {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache read for %q failed: %v", key, err)
	}
	return value, nil
}

func (c *Cache) Close() error {
	return c.pool.Close()
}

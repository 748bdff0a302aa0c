package redis

import goredis "github.com/redis/go-redis/v9"

// A missing key reads as false and never equals ARGV[1].
var scriptCAS = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var scriptPutIfAbsent = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	return {1, cur}
end
redis.call('SET', KEYS[1], ARGV[1])
return {0}
`)

var scriptRemoveIfEqual = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// Unlocking a field the owner does not hold leaves the hash unchanged.
var scriptUnlock = goredis.NewScript(`
local n = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if n <= 0 then
	return -1
end
if n == 1 then
	redis.call('HDEL', KEYS[1], ARGV[1])
else
	redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
end
return n - 1
`)

// A held lock has its lease extended to ARGV[2] milliseconds.
var scriptHoldAndRefresh = goredis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

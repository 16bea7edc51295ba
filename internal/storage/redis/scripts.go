package redis

import "github.com/redis/go-redis/v9"

const (
	// openSessionScript creates a session unless the user already has one
	openSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{user}
local open_set = KEYS[2]        -- {prefix}:sessions:open

local id = ARGV[1]
local user = ARGV[2]
local task = ARGV[3]
local started_at = ARGV[4]

if redis.call('EXISTS', session_key) == 1 then
  return 0
end

redis.call('HSET', session_key,
  'id', id,
  'user', user,
  'task', task,
  'started_at', started_at
)
redis.call('SADD', open_set, user)

return 1
`

	// closeSessionScript removes a session and returns its fields, or an
	// empty array when there was none
	closeSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{user}
local open_set = KEYS[2]        -- {prefix}:sessions:open

local user = ARGV[1]

local data = redis.call('HGETALL', session_key)
if #data == 0 then
  return {}
end

redis.call('DEL', session_key)
redis.call('SREM', open_set, user)

return data
`

	// accumulateScript adds nanoseconds to a (user, task) total and records
	// first-completion order for both users and tasks
	accumulateScript = `
local users_key = KEYS[1]       -- {prefix}:ledger:users
local totals_key = KEYS[2]      -- {prefix}:ledger:totals:{user}
local tasks_key = KEYS[3]       -- {prefix}:ledger:tasks:{user}

local user = ARGV[1]
local task = ARGV[2]

if redis.call('HEXISTS', totals_key, task) == 0 then
  if redis.call('EXISTS', totals_key) == 0 then
    redis.call('RPUSH', users_key, user)
  end
  redis.call('RPUSH', tasks_key, task)
end

-- ARGV[3] goes to HINCRBY as-is; Lua numbers are doubles
return redis.call('HINCRBY', totals_key, task, ARGV[3])
`

	// checkoutScript closes a session and adds its duration to the ledger.
	// The duration is computed by the caller from the session it read, so
	// the script only proceeds while that same session is still open.
	checkoutScript = `
local session_key = KEYS[1]     -- {prefix}:session:{user}
local open_set = KEYS[2]        -- {prefix}:sessions:open
local users_key = KEYS[3]       -- {prefix}:ledger:users
local totals_key = KEYS[4]      -- {prefix}:ledger:totals:{user}
local tasks_key = KEYS[5]       -- {prefix}:ledger:tasks:{user}

local user = ARGV[1]
local session_id = ARGV[2]
local task = ARGV[3]

if redis.call('HGET', session_key, 'id') ~= session_id then
  return 0
end

redis.call('DEL', session_key)
redis.call('SREM', open_set, user)

if redis.call('HEXISTS', totals_key, task) == 0 then
  if redis.call('EXISTS', totals_key) == 0 then
    redis.call('RPUSH', users_key, user)
  end
  redis.call('RPUSH', tasks_key, task)
end
redis.call('HINCRBY', totals_key, task, ARGV[4])

return 1
`

	// snapshotScript reads the whole ledger in one atomic step. KEYS[1] is
	// the users list, followed by a totals and tasks key per user in list
	// order. ARGV[1] is the number of users the caller saw; the script
	// returns false if the list has grown since. The reply is a flat list
	// of user, {task, nanos, task, nanos, ...} pairs.
	snapshotScript = `
local users_key = KEYS[1]       -- {prefix}:ledger:users

if redis.call('LLEN', users_key) ~= tonumber(ARGV[1]) then
  return false
end

local result = {}
local users = redis.call('LRANGE', users_key, 0, -1)
for i, user in ipairs(users) do
  local totals_key = KEYS[2 * i]
  local tasks = redis.call('LRANGE', KEYS[2 * i + 1], 0, -1)
  local entries = {}
  for _, task in ipairs(tasks) do
    table.insert(entries, task)
    table.insert(entries, redis.call('HGET', totals_key, task))
  end
  table.insert(result, user)
  table.insert(result, entries)
end

return result
`
)

var (
	openSession  = redis.NewScript(openSessionScript)
	closeSession = redis.NewScript(closeSessionScript)
	accumulate   = redis.NewScript(accumulateScript)
	checkout     = redis.NewScript(checkoutScript)
	snapshot     = redis.NewScript(snapshotScript)
)

package redis

const (
	// addSpendScript atomically increments a payer's lifetime spend and
	// returns the new total. Amounts are fixed-point integers at 10^8 so
	// the arithmetic stays exact inside Redis.
	addSpendScript = `
local payer_key = KEYS[1]       -- nanobill:payer:{payerID}

local payer_id = ARGV[1]
local delta = tonumber(ARGV[2])
local updated_at = ARGV[3]

redis.call('HSET', payer_key, 'payer_id', payer_id, 'updated_at', updated_at)
local total = redis.call('HINCRBY', payer_key, 'lifetime_spent', delta)

return total
`

	// setUniversalCapScript sets or replaces the lifetime cap.
	setUniversalCapScript = `
local payer_key = KEYS[1]       -- nanobill:payer:{payerID}

local payer_id = ARGV[1]
local cap = ARGV[2]
local updated_at = ARGV[3]

redis.call('HSET', payer_key,
  'payer_id', payer_id,
  'universal_cap', cap,
  'updated_at', updated_at
)

return 'OK'
`
)

package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "sentinel"
)

// Ключи состояния
const (
	// RedisKeyKillSwitchStates — hash "level:target" -> JSON KillSwitchState.
	RedisKeyKillSwitchStates = RedisNamespace + ":killswitch:states"
)

// Каналы Pub/Sub (события)
const (
	RedisChanKillSwitch   = RedisNamespace + ":killswitch:signal"
	RedisChanPolicyUpdate = RedisNamespace + ":policy:update"
)

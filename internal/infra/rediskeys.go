package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "logistics"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanFulfillmentEvents - переходы автомата заявок для внешних подписчиков.
	RedisChanFulfillmentEvents = RedisNamespace + ":fulfillment:events"
	// RedisChanApprovalDecisions - решения внешних согласующих агентов.
	RedisChanApprovalDecisions = RedisNamespace + ":approvals:decisions"
)

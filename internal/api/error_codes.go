// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 角色与物品
	ErrorActorNotFound = "ACTOR_NOT_FOUND"
	ErrorItemNotFound  = "ITEM_NOT_FOUND"

	// WebSocket
	ErrorUpgradeFailed = "WEBSOCKET_UPGRADE_FAILED"
)

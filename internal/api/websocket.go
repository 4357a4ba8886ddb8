// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/BastionSheet/internal/utils"
)

const (
	sendQueueSize = 256
	pingInterval  = 30 * time.Second
	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	maxInbound    = 64 << 10
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 权限由宿主负责，这里不校验来源
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
}

// WebSocketClient 表示一个打开的角色表连接
type WebSocketClient struct {
	conn      WebSocketConnection
	id        string
	actorID   string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	dropped   int64
	lastPing  atomic.Int64
	createdAt time.Time
}

// NewWebSocketClient 创建客户端，发送队列有界
func NewWebSocketClient(conn WebSocketConnection, id, actorID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		id:        id,
		actorID:   actorID,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// ========================================
// WebSocketClient 方法
// ========================================

// Close 安全关闭客户端连接，可重复调用
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// LastPing 最后活跃时间
func (client *WebSocketClient) LastPing() time.Time {
	return time.Unix(0, client.lastPing.Load())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.LastPing()) > timeout
}

// Dropped 因队列已满被丢弃的消息数
func (client *WebSocketClient) Dropped() int64 {
	return atomic.LoadInt64(&client.dropped)
}

// SendMessage 序列化并放入发送队列。队列满时丢弃消息，不阻塞调用方。
func (client *WebSocketClient) SendMessage(message interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- msgBytes:
	default:
		atomic.AddInt64(&client.dropped, 1)
		log.Printf("⚠️ 客户端 %s 消息队列已满，消息被丢弃", client.id)
	}
	return nil
}

// writePump 把队列中的消息写到连接，并定期发送 ping
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("❌ WebSocket ping 失败: %v", err)
				return
			}
		}
	}
}

// ========================================
// WebSocketManager 方法
// ========================================

// WebSocketManager 管理所有 WebSocket 连接，按角色分组
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // actorID -> clients
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	stop        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	pingTimeout time.Duration
}

// NewWebSocketManager 创建管理器，需要调用 Start 启动主循环
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		register:    make(chan *WebSocketClient, 256),
		unregister:  make(chan *WebSocketClient, 256),
		stop:        make(chan struct{}),
		pingTimeout: readTimeout + pingInterval,
	}
}

// Start 启动管理器主循环
func (manager *WebSocketManager) Start() {
	go manager.run()
}

// Stop 关闭所有连接并停止主循环
func (manager *WebSocketManager) Stop() {
	manager.stopOnce.Do(func() { close(manager.stop) })
}

// Register 登记客户端
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	select {
	case manager.register <- client:
	case <-manager.stop:
	}
}

// Unregister 注销客户端并关闭连接
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-manager.stop:
		client.Close()
	}
}

// run 运行 WebSocket 管理器主循环
func (manager *WebSocketManager) run() {
	cleanupTicker := time.NewTicker(pingInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.stop:
			manager.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.actorID] == nil {
		manager.connections[client.actorID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.actorID][client] = struct{}{}
	utils.GetMetricsCollector().IncGauge(utils.MetricWebSocketClients)

	log.Printf("✅ WebSocket 客户端 %s 已连接到角色 %s", client.id, client.actorID)
}

// unregisterClient 安全注销客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	manager.removeLocked(client)
	client.Close()
}

func (manager *WebSocketManager) removeLocked(client *WebSocketClient) {
	connections, exists := manager.connections[client.actorID]
	if !exists {
		return
	}
	if _, ok := connections[client]; !ok {
		return
	}
	delete(connections, client)
	if len(connections) == 0 {
		delete(manager.connections, client.actorID)
	}
	utils.GetMetricsCollector().DecGauge(utils.MetricWebSocketClients)
	log.Printf("🔌 WebSocket 客户端 %s 已断开 (角色: %s)", client.id, client.actorID)
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, connections := range manager.connections {
		for client := range connections {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				manager.removeLocked(client)
				client.Close()
			}
		}
	}
}

// shutdown 关闭所有连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 管理器...")
	for _, connections := range manager.connections {
		for client := range connections {
			manager.removeLocked(client)
			client.Close()
		}
	}
	log.Println("✅ WebSocket 管理器已关闭")
}

// Count 某个角色的连接数，actorID 为空时统计全部
func (manager *WebSocketManager) Count(actorID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	if actorID != "" {
		return len(manager.connections[actorID])
	}
	total := 0
	for _, connections := range manager.connections {
		total += len(connections)
	}
	return total
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	actors := make(map[string]interface{})
	total := 0
	for actorID, connections := range manager.connections {
		clients := make([]interface{}, 0, len(connections))
		for client := range connections {
			if client.IsClosed() {
				continue
			}
			clients = append(clients, map[string]interface{}{
				"client_id":    client.id,
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    client.LastPing().Format(time.RFC3339),
				"dropped":      client.Dropped(),
			})
		}
		actors[actorID] = map[string]interface{}{
			"client_count": len(clients),
			"clients":      clients,
		}
		total += len(clients)
	}

	return map[string]interface{}{
		"total_actors":         len(manager.connections),
		"total_connections":    total,
		"actors":               actors,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}

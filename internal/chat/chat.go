// internal/chat/chat.go
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/BastionSheet/internal/dice"
	"github.com/Corphon/BastionSheet/internal/errors"
)

const defaultHistoryLimit = 200

// Message 聊天消息（掷骰结果）
type Message struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Speaker   string    `json:"speaker"`
	Flavor    string    `json:"flavor,omitempty"`
	Formula   string    `json:"formula,omitempty"`
	Total     int       `json:"total"`
	Dice      []int     `json:"dice,omitempty"`
	Success   *bool     `json:"success,omitempty"` // 只有豁免检定才有
	Timestamp time.Time `json:"timestamp"`
}

// FromRoll 由掷骰结果构造消息
func FromRoll(actorID, speaker, flavor string, res *dice.Result) Message {
	return Message{
		ActorID: actorID,
		Speaker: speaker,
		Flavor:  flavor,
		Formula: res.Formula,
		Total:   res.Total,
		Dice:    res.Dice(),
	}
}

// Subscriber 消息订阅者
type Subscriber func(Message)

// Log 按角色保存有限长度的消息历史，并分发给订阅者
type Log struct {
	mu          sync.RWMutex
	history     map[string][]Message
	limit       int
	subscribers map[int]Subscriber
	nextID      int
	now         func() time.Time
}

// NewLog 创建消息日志，limit <= 0 时使用默认值
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Log{
		history:     make(map[string][]Message),
		limit:       limit,
		subscribers: make(map[int]Subscriber),
		now:         time.Now,
	}
}

// Post 保存消息并通知订阅者
func (l *Log) Post(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(msg.ActorID) == "" {
		return Message{}, errors.NewValidationError("消息缺少角色ID", nil)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now()
	}

	l.mu.Lock()
	h := append(l.history[msg.ActorID], msg)
	if len(h) > l.limit {
		h = append([]Message(nil), h[len(h)-l.limit:]...)
	}
	l.history[msg.ActorID] = h

	ids := make([]int, 0, len(l.subscribers))
	for id := range l.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, l.subscribers[id])
	}
	l.mu.Unlock()

	for _, s := range subs {
		s(msg)
	}
	return msg, nil
}

// History 返回角色的消息历史（按时间顺序的副本）
func (l *Log) History(actorID string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Message{}, l.history[actorID]...)
}

// Subscribe 订阅所有新消息，返回取消函数
func (l *Log) Subscribe(s Subscriber) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subscribers[id] = s
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

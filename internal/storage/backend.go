// internal/storage/backend.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound 文档不存在
var ErrNotFound = errors.New("document not found")

// Backend 以集合 + ID 为键保存 JSON 文档
type Backend interface {
	Load(ctx context.Context, collection, id string) ([]byte, error)
	Save(ctx context.Context, collection, id string, data []byte) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]string, error)
	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateKey 防止集合名或 ID 逃逸出存储目录
func ValidateKey(collection, id string) error {
	if !keyPattern.MatchString(collection) {
		return fmt.Errorf("无效的集合名: %q", collection)
	}
	if id != "" && !keyPattern.MatchString(id) {
		return fmt.Errorf("无效的文档ID: %q", id)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFileStorageRoundTrip(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	if err := fs.Save(ctx, "actors", "c1", []byte(`{"name":"Ada"}`)); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	data, err := fs.Load(ctx, "actors", "c1")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if string(data) != `{"name":"Ada"}` {
		t.Errorf("内容不一致: %s", data)
	}

	// 覆盖写入后缓存应失效
	if err := fs.Save(ctx, "actors", "c1", []byte(`{"name":"Bea"}`)); err != nil {
		t.Fatal(err)
	}
	data, _ = fs.Load(ctx, "actors", "c1")
	if string(data) != `{"name":"Bea"}` {
		t.Errorf("缓存未失效: %s", data)
	}

	if _, err := os.Stat(filepath.Join(fs.BaseDir, "actors", "c1.json.tmp")); !os.IsNotExist(err) {
		t.Error("临时文件应已被重命名")
	}
}

func TestFileStorageCacheReturnsCopy(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()
	fs.Save(ctx, "actors", "c1", []byte(`abc`))

	first, _ := fs.Load(ctx, "actors", "c1")
	first[0] = 'X'
	second, _ := fs.Load(ctx, "actors", "c1")
	if string(second) != "abc" {
		t.Errorf("修改返回值不应影响缓存: %s", second)
	}
}

func TestFileStorageNotFound(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	if _, err := fs.Load(ctx, "actors", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("应返回 ErrNotFound, 实际 %v", err)
	}
	if err := fs.Delete(ctx, "actors", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("删除不存在文档应返回 ErrNotFound, 实际 %v", err)
	}
}

func TestFileStorageListAndDelete(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	ids, err := fs.List(ctx, "actors")
	if err != nil || len(ids) != 0 {
		t.Fatalf("空集合应返回空列表: %v %v", ids, err)
	}

	for _, id := range []string{"b", "a", "c"} {
		fs.Save(ctx, "actors", id, []byte(`{}`))
	}
	os.WriteFile(filepath.Join(fs.BaseDir, "actors", "notes.txt"), []byte("x"), 0644)

	ids, _ = fs.List(ctx, "actors")
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("列表不正确: %v", ids)
	}

	if err := fs.Delete(ctx, "actors", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx, "actors", "b"); !errors.Is(err, ErrNotFound) {
		t.Error("删除后不应能读取")
	}
}

func TestFileStorageRejectsTraversal(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	if err := fs.Save(ctx, "actors", "../escape", []byte(`{}`)); err == nil {
		t.Error("应拒绝包含路径的ID")
	}
	if _, err := fs.List(ctx, "../"); err == nil {
		t.Error("应拒绝非法集合名")
	}
}

func TestFileStorageCacheCap(t *testing.T) {
	fs := newTestStorage(t)
	fs.maxCacheSize = 2
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		fs.Save(ctx, "actors", id, []byte(id))
		fs.Load(ctx, "actors", id)
	}

	fs.cacheMutex.RLock()
	size := len(fs.cache)
	fs.cacheMutex.RUnlock()
	if size > 2 {
		t.Errorf("缓存大小应不超过 2, 实际 %d", size)
	}
}

func TestFileStorageCanceledContext(t *testing.T) {
	fs := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fs.Save(ctx, "actors", "a", []byte(`{}`)); !errors.Is(err, context.Canceled) {
		t.Errorf("应返回 context.Canceled, 实际 %v", err)
	}
}

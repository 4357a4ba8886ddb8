// internal/release/release.go
package release

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

const (
	VersionFile  = "version.txt"
	SystemFile   = "system.json"
	PackageFile  = "package.json"
	downloadBase = "https://github.com/jreiter/electric-bastionland-FoundryVTT/releases/download"
	archiveName  = "electricbastionland.zip"
)

// 与 JSON.stringify(v, null, 2) 的排版一致：两格缩进，数组逐行展开，保持键顺序
var manifestFormat = &pretty.Options{
	Width:    0,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: false,
}

// Result 一次版本更新的结果
type Result struct {
	Version  string
	Previous map[string]string // 文件名 -> 更新前的版本
	Files    []string
}

// DownloadURL 返回指定版本的发布包地址
func DownloadURL(version string) string {
	return fmt.Sprintf("%s/v%s/%s", downloadBase, version, archiveName)
}

// ReadVersion 读取 root 下的 version.txt
func ReadVersion(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, VersionFile))
	if err != nil {
		return "", fmt.Errorf("读取版本文件失败: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", fmt.Errorf("版本文件为空: %s", VersionFile)
	}
	return version, nil
}

// BumpVersion 将 version.txt 中的版本写入 system.json 与 package.json
func BumpVersion(root string) (*Result, error) {
	version, err := ReadVersion(root)
	if err != nil {
		return nil, err
	}

	result := &Result{Version: version, Previous: make(map[string]string)}

	edits := []struct {
		file   string
		fields map[string]string
	}{
		{SystemFile, map[string]string{"version": version, "download": DownloadURL(version)}},
		{PackageFile, map[string]string{"version": version}},
	}
	for _, e := range edits {
		prev, err := rewriteManifest(filepath.Join(root, e.file), e.fields)
		if err != nil {
			return nil, fmt.Errorf("更新 %s 失败: %w", e.file, err)
		}
		result.Previous[e.file] = prev
		result.Files = append(result.Files, e.file)
	}
	return result, nil
}

// rewriteManifest 设置顶层字段并重新排版，返回原来的 version 值
func rewriteManifest(path string, fields map[string]string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("不是有效的 JSON: %s", filepath.Base(path))
	}
	if !gjson.ParseBytes(data).IsObject() {
		return "", fmt.Errorf("顶层必须是对象: %s", filepath.Base(path))
	}
	previous := gjson.GetBytes(data, "version").String()

	// 固定写入顺序，新增的键按此顺序追加在末尾
	for _, key := range []string{"version", "download"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		data, err = sjson.SetBytes(data, key, value)
		if err != nil {
			return "", err
		}
	}

	out := pretty.PrettyOptions(data, manifestFormat)
	if !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return previous, os.WriteFile(path, out, info.Mode().Perm())
}

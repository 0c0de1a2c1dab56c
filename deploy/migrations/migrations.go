package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Files 暴露所有 SQL 迁移文件，按数据库方言分目录存放。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS

// Dialect 返回指定方言的迁移目录。
func Dialect(name string) (fs.FS, error) {
	sub, err := fs.Sub(Files, name)
	if err != nil {
		return nil, fmt.Errorf("加载 %s 迁移目录失败: %w", name, err)
	}
	return sub, nil
}

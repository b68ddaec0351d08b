// Package artifact stores rendered plan documents until they are downloaded
// or swept.
package artifact

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// Object 是一个可读取的文档。
type Object struct {
	io.ReadCloser
	Name    string
	Size    int64
	ModTime time.Time
}

// Store 定义文档存储接口。
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Open(ctx context.Context, name string) (*Object, error)
	Delete(ctx context.Context, name string) error
	// Sweep 删除早于 before 的文档并返回删除数量。
	Sweep(ctx context.Context, before time.Time) (int, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+\.docx$`)

// ValidName 拒绝路径分隔符、".." 以及非 .docx 文件名。
func ValidName(name string) bool {
	return len(name) <= 200 && validName.MatchString(name) && !strings.Contains(name, "..")
}

func checkName(name string) error {
	if !ValidName(name) {
		return xerrors.New(xerrors.CodeInvalidArgument, "invalid filename")
	}
	return nil
}

func notFound(name string) error {
	return xerrors.New(xerrors.CodeNotFound, "not_found", xerrors.WithMetadata("filename", name))
}

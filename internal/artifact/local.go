package artifact

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// LocalStore 把文档保存在本地目录。
type LocalStore struct {
	dir string
}

// NewLocalStore 创建目录并返回 LocalStore。
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "创建文档目录失败")
	}
	return &LocalStore{dir: dir}, nil
}

// Dir 返回存储目录。
func (s *LocalStore) Dir() string { return s.dir }

// Put 先写临时文件再原子重命名，避免下载到半成品。
func (s *LocalStore) Put(_ context.Context, name string, r io.Reader, _ int64) error {
	if err := checkName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "创建临时文件失败")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "写入文档失败")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "关闭临时文件失败")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "保存文档失败")
	}
	return nil
}

// Open 打开文档。
func (s *LocalStore) Open(_ context.Context, name string) (*Object, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "打开文档失败")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "读取文档信息失败")
	}
	return &Object{ReadCloser: f, Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete 删除文档，不存在时视为成功。
func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "删除文档失败")
	}
	return nil
}

// Sweep 删除修改时间早于 before 的文档以及遗留的临时文件。
func (s *LocalStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "读取文档目录失败")
	}
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() || !(ValidName(name) || strings.HasPrefix(name, ".upload-")) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

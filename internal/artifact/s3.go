package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// documentContentType 与 document.ContentType 保持一致。
const documentContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// S3Config 描述 S3 兼容对象存储。
type S3Config struct {
	Endpoint     string
	Bucket       string
	Region       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	CreateBucket bool
}

// S3Store 把文档保存在 S3 兼容的对象存储中。
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store 连接对象存储，必要时创建 bucket。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "创建对象存储客户端失败")
	}
	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "检查 bucket 失败")
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "创建 bucket 失败")
			}
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put 上传文档。
func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := checkName(name); err != nil {
		return err
	}
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), r, size, minio.PutObjectOptions{
		ContentType:        documentContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "上传文档失败")
	}
	return nil
}

// Open 先 Stat 再下载，对象不存在时返回 NOT_FOUND。
func (s *S3Store) Open(ctx context.Context, name string) (*Object, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return nil, notFound(name)
		}
		return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "读取对象信息失败")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeArtifactFailure, err, "下载对象失败")
	}
	return &Object{ReadCloser: obj, Name: name, Size: info.Size, ModTime: info.LastModified}, nil
}

// Delete 删除对象。
func (s *S3Store) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{}); err != nil && !isMissing(err) {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "删除对象失败")
	}
	return nil
}

// Sweep 列出前缀下的对象并删除过期文档。
func (s *S3Store) Sweep(ctx context.Context, before time.Time) (int, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	removed := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return removed, xerrors.Wrap(xerrors.CodeArtifactFailure, obj.Err, "列出对象失败")
		}
		if !obj.LastModified.Before(before) || !ValidName(path.Base(obj.Key)) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err == nil {
			removed++
		}
	}
	return removed, nil
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

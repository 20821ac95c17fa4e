package storage

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3 struct {
	Client *minio.Client
	Bucket string
}

func NewS3(endpoint, region, bucket, accessKey, secretKey string, useSSL, pathStyle bool) (*S3, error) {
	lookup := minio.BucketLookupDNS
	if pathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}
	return &S3{Client: client, Bucket: bucket}, nil
}

func (s *S3) Put(ctx context.Context, key string, reader io.Reader, size int64) error {
	_, err := s.Client.PutObject(ctx, s.Bucket, key, reader, size, minio.PutObjectOptions{})
	return err
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: stat.Size, Modified: stat.LastModified}, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ch := s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	infos := []ObjectInfo{}
	for obj := range ch {
		if obj.Err != nil {
			return nil, obj.Err
		}
		infos = append(infos, ObjectInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified})
	}
	return infos, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

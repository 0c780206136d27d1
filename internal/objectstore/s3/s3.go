// Package s3 adapts an S3-compatible bucket into sy's ObjectStore
// capability, so a sync endpoint can be an object store path instead of a
// filesystem tree. Directories have no first-class representation in S3,
// so they are synthesized as zero-byte objects with a trailing slash key,
// and uploads at or above the multipart threshold are split into parts.
package s3

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// multipartThreshold is the object size at or above which PutObject is
// replaced by a multipart upload.
const multipartThreshold = 5 * 1024 * 1024

// partSize is the size of each part in a multipart upload.
const partSize = 8 * 1024 * 1024

// Store is an ObjectStore backed by one S3 bucket and key prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load AWS configuration")
	}
	return &Store{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *Store) objectKey(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Head returns an object's size and whether it exists, treating a missing
// key as (0, false, nil) rather than an error.
func (s *Store) Head(ctx context.Context, path string) (uint64, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "unable to head %s", path)
	}
	return uint64(aws.ToInt64(out.ContentLength)), true, nil
}

// Get streams an object's content.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get %s", path)
	}
	return out.Body, nil
}

// Put uploads content to path, choosing a multipart upload once size meets
// multipartThreshold.
func (s *Store) Put(ctx context.Context, path string, size uint64, r io.Reader) error {
	if size >= multipartThreshold {
		return s.putMultipart(ctx, path, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "unable to read %s for upload", path)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
		Body:   bytes.NewReader(data),
	})
	return errors.Wrapf(err, "unable to put %s", path)
}

func (s *Store) putMultipart(ctx context.Context, path string, r io.Reader) error {
	key := s.objectKey(path)
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "unable to start multipart upload for %s", path)
	}
	uploadID := created.UploadId

	abort := func() {
		_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
		})
	}

	var parts []types.CompletedPart
	buf := make([]byte, partSize)
	var partNumber int32 = 1
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				abort()
				return errors.Wrapf(err, "unable to upload part %d of %s", partNumber, path)
			}
			parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
			partNumber++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			abort()
			return errors.Wrapf(rerr, "unable to read %s for upload", path)
		}
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		abort()
		return errors.Wrapf(err, "unable to complete multipart upload for %s", path)
	}
	return nil
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	return errors.Wrapf(err, "unable to delete %s", path)
}

// PutDirectoryMarker creates the zero-byte, trailing-slash object that
// stands in for an empty directory, since S3 has no native directory
// concept.
func (s *Store) PutDirectoryMarker(ctx context.Context, path string) error {
	key := s.objectKey(strings.TrimSuffix(path, "/") + "/")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	return errors.Wrapf(err, "unable to create directory marker for %s", path)
}

// List enumerates every object under the store's prefix, one path per
// entry with the prefix stripped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var paths []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "unable to list objects")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			paths = append(paths, key)
		}
	}
	return paths, nil
}

/*
 * Copyright (C) 2024, Vizaxe
 *
 * This file is part of objcache.
 *
 * objcache is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * objcache is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package s3_object_store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

var _ object_store.ObjectStore = (*S3Store)(nil)

// Client is the subset of *s3.Client used by S3Store.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type S3Store struct {
	opts   S3StoreOpts
	client Client
}

type S3StoreOpts struct {
	// Bucket cannot be empty.
	Bucket string

	// Region, Endpoint and UsePathStyle configure the default client
	// built by NewS3Store. Empty values fall back to the aws default
	// config chain.
	Region       string
	Endpoint     string
	UsePathStyle bool

	// PageSize is passed as MaxKeys to ListObjectsV2.
	// Default is object_store.DefaultPageSize.
	PageSize int
}

func (opts *S3StoreOpts) init() error {
	if len(opts.Bucket) == 0 {
		return errors.New("empty bucket")
	}
	utils.SetDefaultNum(&opts.PageSize, object_store.DefaultPageSize)
	return nil
}

// NewS3Store builds an *s3.Client from the default aws config chain.
func NewS3Store(ctx context.Context, opts S3StoreOpts) (*S3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if len(opts.Region) > 0 {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config, %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if len(opts.Endpoint) > 0 {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3StoreWithClient(client, opts)
}

func NewS3StoreWithClient(client Client, opts S3StoreOpts) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("nil client")
	}
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &S3Store{opts: opts, client: client}, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *S3Store) Get(ctx context.Context, key string) (*object_store.Data, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, object_store.ErrNotFound
		}
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body, %w", err)
	}
	return &object_store.Data{
		Info: object_store.Info{
			Key:           key,
			ContentType:   aws.ToString(res.ContentType),
			CacheControl:  aws.ToString(res.CacheControl),
			ContentLength: int64(len(body)),
			LastModified:  aws.ToTime(res.LastModified),
			Metadata:      res.Metadata,
		},
		Body: body,
	}, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (*object_store.Info, error) {
	res, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, object_store.ErrNotFound
		}
		return nil, err
	}
	return &object_store.Info{
		Key:           key,
		ContentType:   aws.ToString(res.ContentType),
		CacheControl:  aws.ToString(res.CacheControl),
		ContentLength: aws.ToInt64(res.ContentLength),
		LastModified:  aws.ToTime(res.LastModified),
		Metadata:      res.Metadata,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, d *object_store.Data) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.opts.Bucket),
		Key:      aws.String(d.Key),
		Body:     bytes.NewReader(d.Body),
		Metadata: d.Metadata,
	}
	if len(d.ContentType) > 0 {
		in.ContentType = aws.String(d.ContentType)
	}
	if len(d.CacheControl) > 0 {
		in.CacheControl = aws.String(d.CacheControl)
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *S3Store) List(ctx context.Context, prefix, cursor string) (*object_store.ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		MaxKeys: aws.Int32(int32(s.opts.PageSize)),
	}
	if len(prefix) > 0 {
		in.Prefix = aws.String(prefix)
	}
	if len(cursor) > 0 {
		in.ContinuationToken = aws.String(cursor)
	}
	res, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, err
	}
	return &object_store.ListPage{
		Objects: lo.Map(res.Contents, func(o types.Object, _ int) object_store.Object {
			return object_store.Object{
				Key:          aws.ToString(o.Key),
				LastModified: aws.ToTime(o.LastModified),
				Size:         aws.ToInt64(o.Size),
			}
		}),
		NextCursor: aws.ToString(res.NextContinuationToken),
	}, nil
}

// DeleteMany issues one quiet DeleteObjects call. keys must not
// exceed object_store.MaxDeleteBatch.
func (s *S3Store) DeleteMany(ctx context.Context, keys []string) ([]object_store.DeleteError, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > object_store.MaxDeleteBatch {
		return nil, fmt.Errorf("too many keys in one delete call, %d > %d", len(keys), object_store.MaxDeleteBatch)
	}
	res, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.opts.Bucket),
		Delete: &types.Delete{
			Objects: lo.Map(keys, func(k string, _ int) types.ObjectIdentifier {
				return types.ObjectIdentifier{Key: aws.String(k)}
			}),
			Quiet: aws.Bool(true),
		},
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(res.Errors, func(e types.Error, _ int) object_store.DeleteError {
		return object_store.DeleteError{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		}
	}), nil
}

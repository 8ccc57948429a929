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
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	body         []byte
	contentType  *string
	cacheControl *string
	metadata     map[string]string
	lastModified time.Time
}

// fakeClient is a single-bucket S3 stand-in. Tokens are the last key
// of the previous page.
type fakeClient struct {
	objects   map[string]*fakeObject
	failKeys  map[string]bool
	lastQuiet bool
	listCalls int
	deleteErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string]*fakeObject{}, failKeys: map[string]bool{}}
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	o, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(o.body))),
		ContentType:   o.contentType,
		CacheControl:  o.cacheControl,
		ContentLength: aws.Int64(int64(len(o.body))),
		LastModified:  aws.Time(o.lastModified),
		Metadata:      o.metadata,
	}, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	o, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentType:   o.contentType,
		CacheControl:  o.cacheControl,
		ContentLength: aws.Int64(int64(len(o.body))),
		LastModified:  aws.Time(o.lastModified),
		Metadata:      o.metadata,
	}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.objects[aws.ToString(in.Key)] = &fakeObject{
		body:         b,
		contentType:  in.ContentType,
		cacheControl: in.CacheControl,
		metadata:     in.Metadata,
		lastModified: time.Now(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(c.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.listCalls++
	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	limit := int(aws.ToInt32(in.MaxKeys))
	if len(keys) > limit {
		keys = keys[:limit]
		out.NextContinuationToken = aws.String(keys[limit-1])
		out.IsTruncated = aws.Bool(true)
	}
	for _, k := range keys {
		o := c.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(o.lastModified),
			Size:         aws.Int64(int64(len(o.body))),
		})
	}
	return out, nil
}

func (c *fakeClient) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if c.deleteErr != nil {
		return nil, c.deleteErr
	}
	c.lastQuiet = aws.ToBool(in.Delete.Quiet)
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		k := aws.ToString(id.Key)
		if c.failKeys[k] {
			out.Errors = append(out.Errors, types.Error{
				Key:     aws.String(k),
				Code:    aws.String("AccessDenied"),
				Message: aws.String("Access Denied"),
			})
			continue
		}
		delete(c.objects, k)
	}
	return out, nil
}

func newTestStore(t *testing.T, pageSize int) (*S3Store, *fakeClient) {
	t.Helper()
	c := newFakeClient()
	s, err := NewS3StoreWithClient(c, S3StoreOpts{Bucket: "bucket", PageSize: pageSize})
	require.NoError(t, err)
	return s, c
}

func TestNewS3StoreWithClient(t *testing.T) {
	_, err := NewS3StoreWithClient(newFakeClient(), S3StoreOpts{})
	require.Error(t, err)
	_, err = NewS3StoreWithClient(nil, S3StoreOpts{Bucket: "b"})
	require.Error(t, err)
}

func TestS3Store_GetHeadPut(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 0)

	_, err := s.Get(ctx, "p/1")
	require.ErrorIs(t, err, object_store.ErrNotFound)
	_, err = s.Head(ctx, "p/1")
	require.ErrorIs(t, err, object_store.ErrNotFound)

	require.NoError(t, s.Put(ctx, &object_store.Data{
		Info: object_store.Info{Key: "p/1", ContentType: "text/plain", Metadata: map[string]string{"k": "one"}},
		Body: []byte("Uno"),
	}))
	d, err := s.Get(ctx, "p/1")
	require.NoError(t, err)
	assert.Equal(t, "Uno", string(d.Body))
	assert.Equal(t, "text/plain", d.ContentType)
	assert.Empty(t, d.CacheControl)
	assert.Equal(t, "one", d.Metadata["k"])

	info, err := s.Head(ctx, "p/1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.ContentLength)

	require.NoError(t, s.Delete(ctx, "p/1"))
	_, err = s.Get(ctx, "p/1")
	require.ErrorIs(t, err, object_store.ErrNotFound)
}

func TestS3Store_OtherErrorsPassThrough(t *testing.T) {
	assert.False(t, isNotFound(errors.New("boom")))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "SlowDown"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
}

func TestS3Store_List(t *testing.T) {
	ctx := context.Background()
	s, c := newTestStore(t, 2)
	for _, k := range []string{"p/a", "p/b", "p/c", "p/d", "p/e", "x/a"} {
		require.NoError(t, s.Put(ctx, &object_store.Data{Info: object_store.Info{Key: k}}))
	}

	var keys []string
	p := object_store.NewPaginator(s, "p/")
	for p.HasMorePages() {
		objs, err := p.NextPage(ctx)
		require.NoError(t, err)
		for _, o := range objs {
			keys = append(keys, o.Key)
		}
	}
	assert.Equal(t, []string{"p/a", "p/b", "p/c", "p/d", "p/e"}, keys)
	assert.Equal(t, 3, c.listCalls)
}

func TestS3Store_DeleteMany(t *testing.T) {
	ctx := context.Background()
	s, c := newTestStore(t, 0)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, &object_store.Data{Info: object_store.Info{Key: k}}))
	}
	c.failKeys["b"] = true

	failed, err := s.DeleteMany(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Key)
	assert.Equal(t, "AccessDenied", failed[0].Code)
	assert.True(t, c.lastQuiet)
	assert.Len(t, c.objects, 1)

	_, err = s.DeleteMany(ctx, make([]string, object_store.MaxDeleteBatch+1))
	require.Error(t, err)

	c.deleteErr = errors.New("boom")
	_, err = s.DeleteMany(ctx, []string{"b"})
	require.ErrorIs(t, err, c.deleteErr)
}

// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

// Package storage re-hosts ODK image attachments in S3-compatible object
// storage and manages the lifecycle of the expiring signed URLs the unified
// table serves to BI dashboards.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/logging"
)

// ObjectStore is the object-storage surface the pipeline needs. The
// production implementation is S3Store; tests supply fakes.
type ObjectStore interface {
	// Put uploads body under key.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// Sign returns a presigned GET URL for key, valid for ttl. It never
	// touches the object bytes, so re-signing an existing key is cheap.
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the given keys.
	Delete(ctx context.Context, keys []string) error
}

// S3Store implements ObjectStore on aws-sdk-go-v2, with custom endpoint
// support for S3-compatible stores.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Store builds the S3 client from the storage configuration and
// verifies the bucket is reachable.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", cfg.Bucket, err)
	}

	logging.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Msg("Object storage ready")

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return &StorageAccessError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Sign presigns a GET for key without re-uploading the object.
func (s *S3Store) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &StorageAccessError{Op: "sign", Key: key, Err: err}
	}
	return req.URL, nil
}

// List returns all keys under prefix, following pagination.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &StorageAccessError{Op: "list", Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// Delete removes keys one by one; the volumes here are tiny.
func (s *S3Store) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return &StorageAccessError{Op: "delete", Key: key, Err: err}
		}
	}
	return nil
}

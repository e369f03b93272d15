// Package s3 uploads encrypted archives to S3-compatible storage (AWS, MinIO)
// and restores the most recent one. Object transfer goes through presigned
// URLs so the client needs no long-lived credentials beyond the access keys.
package s3

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"skiff/pkg/backup"
)

const (
	BucketName    = "skiff-archives"
	keyPrefix     = "archive-"
	presignExpiry = 15 * time.Minute
)

// Client handles archive upload and restore against one bucket.
type Client struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// NewClient builds a client for an S3-compatible endpoint.
func NewClient(host, accessKey, secretKey string) (*Client, error) {
	if host == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("missing S3 configuration")
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("us-east-1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(host)
		// Path-style keeps MinIO and other S3-compatible servers working.
		o.UsePathStyle = true
	})

	return &Client{
		s3Client:      client,
		presignClient: s3.NewPresignClient(client),
		bucket:        BucketName,
	}, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		// 409 means someone else created it first. That is fine.
		if strings.Contains(err.Error(), "StatusCode: 409") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Backup encrypts a snapshot and uploads it as a timestamped object.
func (c *Client) Backup(ctx context.Context, snap *backup.Snapshot, password string) error {
	if err := c.EnsureBucket(ctx); err != nil {
		return err
	}

	data, err := backup.Export(snap, password)
	if err != nil {
		return err
	}

	key := keyPrefix + time.Now().UTC().Format("20060102-150405") + ".enc"
	presignedReq, err := c.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return fmt.Errorf("failed to generate presigned PUT: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedReq.URL, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("upload failed with status: %s", resp.Status)
	}

	log.Printf("[INFO] uploaded archive %s to bucket %s", key, c.bucket)
	return nil
}

// Restore downloads and decrypts the most recent archive in the bucket.
func (c *Client) Restore(ctx context.Context, password string) (*backup.Snapshot, error) {
	output, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	if len(output.Contents) == 0 {
		return nil, fmt.Errorf("no archives found")
	}

	sort.Slice(output.Contents, func(i, j int) bool {
		return output.Contents[i].LastModified.After(*output.Contents[j].LastModified)
	})
	latestKey := *output.Contents[0].Key

	presignedReq, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(latestKey),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned GET: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedReq.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	snap, err := backup.Import(data, password)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] restored archive %s from bucket %s", latestKey, c.bucket)
	return snap, nil
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/n-netplay/internal/config"
)

// Uploader envia gravações finalizadas para um bucket S3 (ou
// compatível).
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewUploader monta o cliente S3 a partir da configuração de archive.
// Sem access_key explícita, vale a credential chain default do SDK.
func NewUploader(ctx context.Context, info config.ArchiveInfo) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if info.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(info.S3Region))
	}
	if info.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(info.AccessKey, info.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if info.Endpoint != "" {
			o.BaseEndpoint = aws.String(info.Endpoint)
			// Endpoints compatíveis (MinIO) geralmente exigem path style.
			o.UsePathStyle = true
		}
	})

	return &Uploader{client: client, bucket: info.S3Bucket, prefix: info.S3Prefix}, nil
}

// Upload envia um arquivo de replay; a key é prefix/basename.
func (u *Uploader) Upload(ctx context.Context, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening replay for upload: %w", err)
	}
	defer f.Close()

	key := path.Join(u.prefix, filepath.Base(filePath))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

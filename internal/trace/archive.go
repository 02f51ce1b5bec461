// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package trace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver envia arquivos de trace finalizados para um bucket S3.
// Opcional: sem bucket configurado, nada é enviado.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver cria o arquivador com as credenciais do ambiente.
func NewArchiver(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger.With("component", "trace_archiver"),
	}, nil
}

// Upload envia o arquivo de trace para o bucket, sob prefix/basename.
func (a *Archiver) Upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening trace for upload: %w", err)
	}
	defer f.Close()

	key := filepath.Join(a.prefix, filepath.Base(path))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading trace to s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Info("trace archived", "bucket", a.bucket, "key", key)
	return nil
}

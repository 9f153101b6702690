package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/subpool/internal/logging"
	sc "github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// ArchiveService ships audit-trail entries to S3-compatible object storage
// as JSON lines, one object per run. The trail itself stays in the database;
// archiving is for long-term retention, not correctness.
type ArchiveService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
}

func NewArchiveService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, logger logging.Logger) *ArchiveService {
	return &ArchiveService{db: db, repomanager: m, config: cfg, logger: logger}
}

func archiveStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("audit/%d/%d/%d/%v.jsonl", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *ArchiveService) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	}), nil
}

// ArchiveSince uploads every audit entry created after the given time.
// Returns the number of entries shipped; zero entries uploads nothing.
func (s *ArchiveService) ArchiveSince(ctx context.Context, after time.Time) (int, error) {
	repo := s.repomanager.AuditLog(s.db)

	entries, err := repo.SelectCreatedAfter(ctx, after)
	if err != nil {
		return 0, fmt.Errorf("error selecting audit entries: %v", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 0, err
		}
	}

	client, err := s.getClient()
	if err != nil {
		return 0, err
	}

	bucket := s.config.S3Bucket
	key := archiveStorageKey()

	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(buf.Bytes()),
	}); err != nil {
		return 0, fmt.Errorf("error uploading audit archive: %v", err)
	}

	s.logger.Info(ctx, "audit archive uploaded", "key", key, "entries", len(entries))

	return len(entries), nil
}

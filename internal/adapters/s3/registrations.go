// Package s3 stores one registration record per event as a JSON object and
// uses S3 conditional writes on the ETag for optimistic concurrency.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

// Client is the subset of *s3.Client the store needs.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type RegistrationStore struct {
	client Client
	bucket string
	prefix string
}

func NewRegistrationStore(client Client, bucket, prefix string) *RegistrationStore {
	return &RegistrationStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *RegistrationStore) key(eventID string) string {
	return s.prefix + eventID + ".json"
}

func (s *RegistrationStore) Load(ctx context.Context, eventID string) (domain.VersionedRecord, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(eventID)),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.VersionedRecord{}, errors.Wrapf(domain.ErrNotFound, "registration record %s", eventID)
		}
		return domain.VersionedRecord{}, errors.Wrapf(err, "get registration record %s", eventID)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.VersionedRecord{}, errors.Wrapf(err, "read registration record %s", eventID)
	}
	var rec domain.RegistrationRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.VersionedRecord{}, errors.Wrapf(domain.ErrCorruptRecord, "registration record %s: %v", eventID, err)
	}
	if rec.Registrations == nil {
		rec.Registrations = []domain.Registrant{}
	}
	return domain.VersionedRecord{Record: rec, Version: aws.ToString(out.ETag)}, nil
}

func (s *RegistrationStore) Insert(ctx context.Context, rec domain.RegistrationRecord) (string, error) {
	return s.put(ctx, rec, &s3.PutObjectInput{IfNoneMatch: aws.String("*")})
}

func (s *RegistrationStore) Replace(ctx context.Context, rec domain.RegistrationRecord, version string) (string, error) {
	return s.put(ctx, rec, &s3.PutObjectInput{IfMatch: aws.String(version)})
}

func (s *RegistrationStore) put(ctx context.Context, rec domain.RegistrationRecord, in *s3.PutObjectInput) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	in.Bucket = aws.String(s.bucket)
	in.Key = aws.String(s.key(rec.EventID))
	in.Body = bytes.NewReader(body)
	in.ContentType = aws.String("application/json")

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", errors.Wrapf(domain.ErrConcurrentModification, "registration record %s", rec.EventID)
		}
		return "", errors.Wrapf(err, "put registration record %s", rec.EventID)
	}
	return aws.ToString(out.ETag), nil
}

func (s *RegistrationStore) List(ctx context.Context) ([]domain.RegistrationRecord, error) {
	var ids []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list registration records")
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if id, ok := strings.CutSuffix(key, ".json"); ok && id != "" && !strings.Contains(id, "/") {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)

	records := make([]domain.RegistrationRecord, 0, len(ids))
	for _, id := range ids {
		v, err := s.Load(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, v.Record)
	}
	return records, nil
}

func (s *RegistrationStore) Delete(ctx context.Context, eventID string) error {
	if _, err := s.Load(ctx, eventID); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(eventID)),
	})
	return errors.Wrapf(err, "delete registration record %s", eventID)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

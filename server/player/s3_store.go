package player

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"geoquest/shared/game/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps one JSON object per player at <prefix>/<key>.json. A single
// PutObject replaces the whole record, so readers never see partial writes.
type S3Store struct {
	Client S3API
	Bucket string
	Prefix string
	log    zerolog.Logger
}

func NewS3Store(client S3API, bucket, prefix string, log zerolog.Logger) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("s3 client is nil")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket is empty")
	}
	return &S3Store{Client: client, Bucket: bucket, Prefix: prefix, log: log}, nil
}

func (s *S3Store) key(name string) string {
	return path.Join(s.Prefix, SafeKey(name)+".json")
}

func (s *S3Store) Load(ctx context.Context, name string) (*types.Player, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	key := s.key(name)
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get player object %s: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read player object %s: %w", key, err)
	}
	var p types.Player
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode player %s: %w", name, err)
	}
	return &p, nil
}

func (s *S3Store) Save(ctx context.Context, p *types.Player) error {
	if p == nil {
		return errors.New("invalid player: nil pointer")
	}
	if err := checkName(p.Name); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}
	key := s.key(p.Name)
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put player object %s: %w", key, err)
	}
	s.log.Debug().Str("player", p.Name).Str("key", key).Msg("player saved to s3")
	return nil
}

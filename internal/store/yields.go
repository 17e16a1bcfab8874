package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rzzdr/euro-option-pricer/config"
	"github.com/rzzdr/euro-option-pricer/internal/rates"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// YieldSource loads the raw observations of a yield dataset
type YieldSource interface {
	Load(ctx context.Context, id string) ([]models.RatePoint, error)
}

// Day-first layouts used by the yield files, ISO last
var yieldDateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	time.DateOnly,
}

func parseYieldDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range yieldDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ParseYieldCSV reads a ds,y file. Rates are returned as stored; cleaning
// and percent conversion happen in the forecaster.
func ParseYieldCSV(r io.Reader) ([]models.RatePoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.DataUnavailable("empty yield file")
	}

	dsCol, yCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "ds":
			dsCol = i
		case "y":
			yCol = i
		}
	}
	if dsCol < 0 || yCol < 0 {
		return nil, errors.InvalidInput("yield file needs ds and y columns")
	}

	var out []models.RatePoint
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) <= dsCol || len(record) <= yCol {
			continue
		}

		raw := strings.TrimSpace(record[yCol])
		if raw == "" {
			continue
		}
		y, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}

		date, err := parseYieldDate(record[dsCol])
		if err != nil {
			return nil, errors.InvalidInputf("line %d: %v", line, err)
		}
		out = append(out, models.RatePoint{Date: date, Rate: y})
	}
	return out, nil
}

// DirYieldSource reads the dataset files from a local directory
type DirYieldSource struct {
	dir string
	log *logger.Logger
}

// Creates a new directory-backed yield source
func NewDirYieldSource(dir string) *DirYieldSource {
	return &DirYieldSource{dir: dir, log: logger.GetLogger("store.yields")}
}

func (s *DirYieldSource) Load(ctx context.Context, id string) ([]models.RatePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := rates.FileName(id)
	if err != nil {
		return nil, err
	}

	file := filepath.Join(s.dir, name)
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.DataUnavailablef("yield dataset %s not found at %s", id, file)
		}
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	points, err := ParseYieldCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", file)
	}
	s.log.Debugf("Loaded %d observations for %s", len(points), id)
	return points, nil
}

// S3GetObjectAPI is the subset of the S3 client used to fetch datasets
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3YieldSource reads the dataset files from an S3 bucket
type S3YieldSource struct {
	client S3GetObjectAPI
	bucket string
	prefix string
	log    *logger.Logger
}

// Creates a new S3-backed yield source
func NewS3YieldSource(client S3GetObjectAPI, bucket, prefix string) *S3YieldSource {
	return &S3YieldSource{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    logger.GetLogger("store.yields"),
	}
}

// NewS3Client builds an S3 client from configuration, with static credentials
// and a custom endpoint when set
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

func (s *S3YieldSource) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3YieldSource) Load(ctx context.Context, id string) ([]models.RatePoint, error) {
	name, err := rates.FileName(id)
	if err != nil {
		return nil, err
	}

	key := s.key(name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, errors.DataUnavailablef("yield dataset %s not found at s3://%s/%s", id, s.bucket, key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	points, err := ParseYieldCSV(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse s3://%s/%s", s.bucket, key)
	}
	s.log.Debugf("Loaded %d observations for %s from s3://%s/%s", len(points), id, s.bucket, key)
	return points, nil
}

var (
	_ rates.Source = (*DirYieldSource)(nil)
	_ rates.Source = (*S3YieldSource)(nil)
)

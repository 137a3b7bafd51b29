// Package s3 uploads each payload as a JSON object to an S3 bucket.
// Object keys are <prefix><timestamp>_<correlation_id>.json with the
// prefix template-expanded per payload, so results can be partitioned by
// node or date. An endpoint override points the destination at
// S3-compatible stores such as MinIO.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("s3", "uploads each payload as a JSON object to an S3 bucket", New)
}

// Destination delivers payloads to object storage.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured S3 destination.
func New() core.Destination {
	return &Destination{Destination: base.New("s3")}
}

// Configure loads AWS credentials from the environment and prepares the
// uploader.
//
// Options: bucket (required), region (default us-east-1), prefix (object
// key prefix, template-expanded per payload), endpoint (S3-compatible
// endpoint override), path_style (force path-style addressing, default
// true when endpoint is set).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	bucket, err := cfg.Options.RequiredString("bucket")
	if err != nil {
		return err
	}
	region := cfg.Options.String("region", "us-east-1")
	endpoint := cfg.Options.String("endpoint", "")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SendTimeout())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws configuration")
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = cfg.Options.Bool("path_style", true)
		}
	})

	sender := &objectUploader{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   cfg.Options.String("prefix", ""),
	}
	return d.Bind(cfg, sender, nil)
}

type objectUploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func (u *objectUploader) Send(ctx context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	_, err = u.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.objectKey(p)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "s3 upload failed").
			WithDetail("bucket", u.bucket)
	}
	return nil
}

func (u *objectUploader) objectKey(p *payload.Payload) string {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := p.CorrelationID
	if id == "" {
		id = fmt.Sprintf("%09d", ts.Nanosecond())
	}
	return fmt.Sprintf("%s%s_%s.json", base.ExpandTemplate(u.prefix, p), ts.Format("20060102T150405.000"), id)
}

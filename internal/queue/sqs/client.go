package sqsqueue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"confcrm/internal/config"
)

// NewClient builds the SQS client for the events queue. Setting
// LOCALSTACK_ENDPOINT points it at LocalStack with dummy credentials.
func NewClient(ctx context.Context, cfg config.SQSConfig) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	var opts []func(*sqs.Options)
	if cfg.LocalstackEndpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.LocalstackEndpoint)
		})
	}
	return sqs.NewFromConfig(awsCfg, opts...), nil
}

func loadOptions(cfg config.SQSConfig) []func(*awsconfig.LoadOptions) error {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.LocalstackEndpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}
	return opts
}

// NewProducer wires an EventProducer to the configured queue.
func NewProducer(ctx context.Context, cfg config.SQSConfig) (*EventProducer, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &EventProducer{SQS: client, QueueURL: cfg.QueueURL}, nil
}

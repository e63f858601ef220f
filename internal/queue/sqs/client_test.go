package sqsqueue

import (
	"context"
	"testing"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/config"
)

func TestLoadOptionsLocalstack(t *testing.T) {
	cfg := config.SQSConfig{AWSRegion: "eu-west-1", QueueURL: "http://localhost:4566/000000000000/events.fifo", LocalstackEndpoint: "http://localhost:4566"}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions(cfg)...)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}

func TestNewProducerUsesQueueURL(t *testing.T) {
	cfg := config.SQSConfig{AWSRegion: "eu-west-1", QueueURL: "http://localhost:4566/000000000000/events", LocalstackEndpoint: "http://localhost:4566"}
	p, err := NewProducer(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.QueueURL, p.QueueURL)
	assert.NotNil(t, p.SQS)
}

package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients bundles the service clients the checkout service talks to.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients loads AWS config and returns concrete service clients.
func NewAWSClients(ctx context.Context) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	return &AWSClients{
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}, nil
}

// Publisher binds the SQS client to the events queue.
func (c *AWSClients) Publisher(queueURL string) *Publisher {
	if c == nil {
		return NewPublisher(nil, queueURL)
	}
	return NewPublisher(c.SQS, queueURL)
}

// Metrics binds the CloudWatch client to a namespace.
func (c *AWSClients) Metrics(namespace string) *Metrics {
	if c == nil {
		return NewMetrics(nil, namespace)
	}
	return NewMetrics(c.CloudWatch, namespace)
}

// Package mail sends outbound email.
//
// The SQSMailer does not talk SMTP itself, it enqueues the message on an SQS queue
// which is drained by a mail relay. The LogMailer only logs and is meant for
// development.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/gardenbase/core/logger"
)

// Message is an outbound email
type Message struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"bodyHtml"`
}

// Result is the outcome of a send. ID identifies the message at the provider.
type Result struct {
	OK bool
	ID string
}

// Mailer sends email
type Mailer interface {
	Send(ctx context.Context, message Message) (Result, error)
}

// SQSAPI is the subset of the SQS client used by SQSMailer
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfiguration configures the SQS mailer
type SQSConfiguration struct {
	QueueURL  string
	Sender    string
	AWSRegion string
	AccessID  string
	AccessKey string
}

// SQSMailer enqueues messages as JSON on an SQS queue
type SQSMailer struct {
	client   SQSAPI
	queueURL string
	sender   string
}

// NewSQSMailer returns a new SQSMailer. Static credentials are used if configured,
// otherwise the default AWS credential chain.
func NewSQSMailer(ctx context.Context, c SQSConfiguration) (*SQSMailer, error) {
	if c.QueueURL == "" {
		return nil, errors.New("QueueURL must not be empty")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(c.AWSRegion)}
	if c.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessID, c.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("SQS mailer enabled")
	return NewSQSMailerWithClient(sqs.NewFromConfig(cfg), c.QueueURL, c.Sender), nil
}

// NewSQSMailerWithClient returns a new SQSMailer using client
func NewSQSMailerWithClient(client SQSAPI, queueURL, sender string) *SQSMailer {
	return &SQSMailer{client: client, queueURL: queueURL, sender: sender}
}

// Send implements Mailer. Messages without sender get the configured sender.
func (m *SQSMailer) Send(ctx context.Context, message Message) (Result, error) {
	if message.From == "" {
		message.From = m.sender
	}
	if message.To == "" {
		return Result{}, errors.New("message has no recipient")
	}
	body, err := json.Marshal(message)
	if err != nil {
		return Result{}, err
	}
	out, err := m.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(m.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return Result{}, fmt.Errorf("cannot enqueue mail: %w", err)
	}
	return Result{OK: true, ID: aws.ToString(out.MessageId)}, nil
}

// LogMailer logs messages instead of sending them
type LogMailer struct{}

// Send implements Mailer
func (LogMailer) Send(ctx context.Context, message Message) (Result, error) {
	id := uuid.New().String()
	logger.FromContext(ctx).WithField("messageId", id).Infof("mail to %s: %s", message.To, message.Subject)
	return Result{OK: true, ID: id}, nil
}

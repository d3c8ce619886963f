package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/kausalhq/kausal/internal/logging"
)

// sqsAPI is the subset of the SQS client the queue uses. Extracted so
// tests can substitute a stub.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue on Amazon SQS with long polling.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	waitTime int32
	logger   *logging.Logger
}

// NewSQSQueue creates a queue over the given queue URL using the
// default AWS credential chain.
func NewSQSQueue(ctx context.Context, queueURL string, logger *logging.Logger) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newSQSQueue(sqs.NewFromConfig(awsCfg), queueURL, logger), nil
}

func newSQSQueue(client sqsAPI, queueURL string, logger *logging.Logger) *SQSQueue {
	if logger == nil {
		logger = logging.GetLogger("queue.sqs")
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		waitTime: 20, // long poll
		logger:   logger,
	}
}

type messageBody struct {
	JobID string `json:"job_id"`
}

// Enqueue implements Queue.Enqueue.
func (q *SQSQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	body, err := json.Marshal(messageBody{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	delay = ClampDelay(delay)
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	q.logger.Debug("enqueued job %s with delay %s", jobID, delay)
	return nil
}

// Receive implements Queue.Receive.
func (q *SQSQueue) Receive(ctx context.Context) (*Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.waitTime,
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	var body messageBody
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &body); err != nil {
		// Malformed message: acknowledge it so it does not loop forever.
		q.logger.Error("dropping malformed queue message: %v", err)
		_, delErr := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: raw.ReceiptHandle,
		})
		if delErr != nil {
			q.logger.Error("failed to delete malformed message: %v", delErr)
		}
		return nil, nil
	}

	return &Message{
		JobID:   body.JobID,
		Receipt: aws.ToString(raw.ReceiptHandle),
	}, nil
}

// Delete implements Queue.Delete.
func (q *SQSQueue) Delete(ctx context.Context, msg *Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

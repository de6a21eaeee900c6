// Package sns publishes applied-change notifications to an AWS SNS
// topic.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/mergetide/go-scd"
)

// SNSClient defines the subset of the SNS API used by the notifier.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier publishes applied changes to one SNS topic.
type Notifier struct {
	client         SNSClient
	topicARN       string
	messageGroupID string
}

// Option configures an SNS Notifier.
type Option func(*Notifier)

// WithMessageGroupID sets the message group ID for FIFO topics.
func WithMessageGroupID(groupID string) Option {
	return func(n *Notifier) {
		n.messageGroupID = groupID
	}
}

// New creates an SNS notifier for the given topic ARN.
func New(client SNSClient, topicARN string, opts ...Option) *Notifier {
	n := &Notifier{
		client:   client,
		topicARN: topicARN,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ scd.Notifier = (*Notifier)(nil)

// Notify publishes one SNS message per applied change. All changes are
// attempted even if some fail; errors are collected and returned as a
// joined error.
func (n *Notifier) Notify(ctx context.Context, changes []scd.AppliedChange) error {
	if n.client == nil {
		return fmt.Errorf("scd/sns: client not configured")
	}

	var errs []error
	for _, ch := range changes {
		payload, err := json.Marshal(ch)
		if err != nil {
			errs = append(errs, fmt.Errorf("scd/sns: failed to marshal change for key %q: %w", ch.Key, err))
			continue
		}

		input := &sns.PublishInput{
			TopicArn: &n.topicARN,
			Message:  stringPtr(string(payload)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"entity": {
					DataType:    stringPtr("String"),
					StringValue: stringPtr(ch.Entity),
				},
				"operation": {
					DataType:    stringPtr("String"),
					StringValue: stringPtr(ch.Op.String()),
				},
				"sequence": {
					DataType:    stringPtr("Number"),
					StringValue: stringPtr(strconv.FormatInt(int64(ch.Sequence), 10)),
				},
			},
		}
		if n.messageGroupID != "" {
			input.MessageGroupId = &n.messageGroupID
			dedup := ch.Entity + "/" + ch.Key + "/" + strconv.FormatInt(int64(ch.Sequence), 10)
			input.MessageDeduplicationId = &dedup
		}

		if _, err := n.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("scd/sns: failed to publish change for key %q: %w", ch.Key, err))
		}
	}

	return errors.Join(errs...)
}

func stringPtr(s string) *string {
	return &s
}

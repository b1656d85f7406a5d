package email

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport sends through AWS SES. With a configuration set, SES
// publishes delivery, open, click, bounce and complaint events tagged with
// the message tags.
type SESTransport struct {
	client           SESClient
	configurationSet string
}

func NewSESTransport(ctx context.Context, configurationSet string, maxBackoffDelay time.Duration, maxAttempts int) (*SESTransport, error) {
	retryerWithBackoff := retry.AddWithMaxBackoffDelay(retry.NewStandard(), maxBackoffDelay)
	awsRetryer := config.WithRetryer(func() aws.Retryer {
		return retry.AddWithMaxAttempts(retryerWithBackoff, maxAttempts)
	})

	cfg, err := config.LoadDefaultConfig(ctx, awsRetryer)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return &SESTransport{
		client:           ses.NewFromConfig(cfg),
		configurationSet: configurationSet,
	}, nil
}

func (s *SESTransport) Send(ctx context.Context, msg Message) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(msg.Subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(msg.HTML),
				},
			},
		},
		Tags: messageTags(msg.Tags),
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	return aws.ToString(out.MessageId), nil
}

func messageTags(tags map[string]string) []types.MessageTag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.MessageTag, 0, len(tags))
	for _, k := range keys {
		out = append(out, types.MessageTag{
			Name:  aws.String(TagValue(k)),
			Value: aws.String(TagValue(tags[k])),
		})
	}
	return out
}

// TagValue maps a value onto the SES tag alphabet: ASCII letters,
// digits, underscore, dash, period and at sign. Events come back carrying
// the mapped value.
func TagValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_' || r == '-' || r == '.' || r == '@':
			return r
		}
		return '_'
	}, v)
}

package notifier

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SESService is the subset of the SES client used here, so tests can fake it.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSService is the subset of the SNS client used here.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESNotifier sends email through Amazon SES.
type SESNotifier struct {
	client SESService
	from   string
}

// NewSESNotifier creates an email notifier sending from the given address.
func NewSESNotifier(client SESService, from string) *SESNotifier {
	return &SESNotifier{client: client, from: from}
}

// Send delivers msg as a plain-text email.
func (n *SESNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("email to %s: no address", msg.Name)
	}

	// mail.Address quotes and RFC 2047 encodes non-ASCII display names
	to := (&mail.Address{Name: msg.Name, Address: msg.To}).String()

	_, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(n.from),
	})
	if err != nil {
		return fmt.Errorf("ses send to %s: %w", msg.To, err)
	}
	return nil
}

// SNSNotifier sends SMS through Amazon SNS.
type SNSNotifier struct {
	client   SNSService
	senderID string
}

// NewSNSNotifier creates an SMS notifier. senderID is optional and only
// honoured in countries that support alphanumeric sender IDs.
func NewSNSNotifier(client SNSService, senderID string) *SNSNotifier {
	return &SNSNotifier{client: client, senderID: senderID}
}

// Send delivers msg as a transactional SMS. The subject is prepended to the body.
func (n *SNSNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("sms to %s: no phone number", msg.Name)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n" + msg.Body
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(text),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	}
	if n.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(n.senderID),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish to %s: %w", msg.To, err)
	}
	return nil
}

// AWSOptions configures the SES and SNS notifiers.
type AWSOptions struct {
	Region      string
	FromEmail   string
	SMSSenderID string
}

// NewAWSRouter loads the default AWS credential chain and returns a router
// with email routed to SES and SMS routed to SNS.
func NewAWSRouter(ctx context.Context, opts AWSOptions) (*Router, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewRouter().
		Handle(ChannelEmail, NewSESNotifier(ses.NewFromConfig(awsCfg), opts.FromEmail)).
		Handle(ChannelSMS, NewSNSNotifier(sns.NewFromConfig(awsCfg), opts.SMSSenderID)), nil
}

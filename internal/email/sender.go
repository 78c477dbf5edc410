package email

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/notification-dispatch/internal/config"
	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
)

// Sender delivers notification emails. Implementations render the
// template for the event kind and hand the result to a transport.
type Sender interface {
	SendTemplated(ctx context.Context, t notification.Type, recipient string, data interface{}, unsubscribeLink string) error
}

// New selects the sender for the configured provider. Anything other
// than "ses" degrades to the log sender so a missing email setup shows
// up in the logs instead of failing sends.
func New(cfg config.EmailConfig) Sender {
	switch cfg.Provider {
	case "ses":
		return NewSESSender(cfg)
	default:
		return NewLogSender()
	}
}

// LogSender renders emails and writes them to the log instead of
// sending. Used in development and as the fallback provider.
type LogSender struct {
	renderer *Renderer
}

var _ Sender = (*LogSender)(nil)

// NewLogSender creates a log-only sender.
func NewLogSender() *LogSender {
	return &LogSender{renderer: NewRenderer()}
}

// SendTemplated renders the email and logs what would have been sent.
func (s *LogSender) SendTemplated(ctx context.Context, t notification.Type, recipient string, data interface{}, unsubscribeLink string) error {
	msg, err := s.renderer.Render(t, data, unsubscribeLink)
	if err != nil {
		return err
	}
	log.Printf("[Email] Would send %s to %s: %q", t, logger.RedactEmail(recipient), msg.Subject)
	logger.Debug("rendered notification email", "type", string(t), "recipient", recipient, "body_bytes", len(msg.HTML))
	return nil
}

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers rendered emails through AWS SES using the SDK v2.
type SESSender struct {
	cfg      config.EmailConfig
	renderer *Renderer
	client   sesAPI
}

var _ Sender = (*SESSender)(nil)

// NewSESSender creates an SES sender. The AWS client is initialized
// only when credentials are provided; without them every send returns
// an error, which the caller surfaces as a failed delivery.
func NewSESSender(cfg config.EmailConfig) *SESSender {
	sender := &SESSender{cfg: cfg, renderer: NewRenderer()}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		)
		if err != nil {
			log.Printf("[Email] Warning: failed to initialize AWS config: %v", err)
		} else {
			sender.client = sesv2.NewFromConfig(awsCfg)
		}
	}
	return sender
}

// SendTemplated renders the template for t and sends it via SES.
func (s *SESSender) SendTemplated(ctx context.Context, t notification.Type, recipient string, data interface{}, unsubscribeLink string) error {
	if s.client == nil {
		return fmt.Errorf("SES client not initialized, check credentials")
	}

	msg, err := s.renderer.Render(t, data, unsubscribeLink)
	if err != nil {
		return err
	}

	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout())
		defer cancel()
	}

	from := s.cfg.FromAddress
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("notification_type"), Value: aws.String(string(t))},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[Email] Failed to send %s to %s: %v", t, logger.RedactEmail(recipient), err)
		return fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[Email] Sent %s to %s (id: %s)", t, logger.RedactEmail(recipient), messageID)
	return nil
}

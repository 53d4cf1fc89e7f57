package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESProvider sends emails via AWS SES using the SDK v2.
type SESProvider struct {
	fromEmail string
	fromName  string
	client    *sesv2.Client
}

// NewSESProvider creates an SES email provider. Initializes the AWS SDK
// client if credentials are provided; otherwise the client stays nil and
// every send fails with a clear error.
func NewSESProvider(accessKey, secretKey, region, fromEmail, fromName string) *SESProvider {
	if region == "" {
		region = "us-east-1"
	}

	p := &SESProvider{fromEmail: fromEmail, fromName: fromName}

	if accessKey != "" && secretKey != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
		if err != nil {
			log.Printf("[SES] Warning: Failed to initialize AWS config: %v", err)
		} else {
			p.client = sesv2.NewFromConfig(cfg)
		}
	}

	return p
}

// SendEmail delivers a single email through AWS SES and returns the provider
// message id. Enrollment and step log ids are attached as message tags so
// event webhooks can be correlated back.
func (p *SESProvider) SendEmail(ctx context.Context, to, subject, htmlBody string, corr Correlation) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("SES client not initialized - check credentials")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", p.fromName, p.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("enrollment_id"), Value: aws.String(corr.EnrollmentID.String())},
			{Name: aws.String("step_log_id"), Value: aws.String(corr.StepLogID.String())},
			{Name: aws.String("automation_id"), Value: aws.String(corr.AutomationID.String())},
		},
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return messageID, nil
}

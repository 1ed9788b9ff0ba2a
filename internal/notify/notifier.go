// Package notify emails users a digest of proposals awaiting review.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	"github.com/inseam/inseam/internal/config"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/logger"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier renders the pending-proposals digest with Liquid and delivers
// it through SES. A Notifier built without credentials is disabled and
// sends nothing.
type Notifier struct {
	client    sesAPI
	engine    *liquid.Engine
	fromEmail string
	fromName  string
}

// NewNotifier builds the SES client from static credentials, or a
// disabled notifier when notification is off or unconfigured.
func NewNotifier(cfg config.NotifyConfig) *Notifier {
	n := &Notifier{
		engine:    liquid.NewEngine(),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
	if !cfg.Enabled || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return n
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		logger.Warn("notifier disabled: AWS config failed", "error", err.Error())
		return n
	}
	n.client = sesv2.NewFromConfig(awsCfg)
	return n
}

// Enabled reports whether the notifier can actually deliver email.
func (n *Notifier) Enabled() bool { return n.client != nil }

const digestTemplate = `<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <h2>{{ count }} update{% if count != 1 %}s{% endif %} waiting for review</h2>
  <p>Inseam found new information in your inbox:</p>
  <ul>
  {% for u in updates %}
    <li style="margin-bottom: 8px;">
      <strong>{{ u.title }}</strong><br/>
      {{ u.summary }}
      {% if u.changes > 0 %}<em>({{ u.changes }} proposed change{% if u.changes != 1 %}s{% endif %})</em>{% endif %}
    </li>
  {% endfor %}
  </ul>
  <p>Review and approve them from your Inseam dashboard.</p>
</body>
</html>`

// SendProposalDigest emails a summary of the given pending updates. A
// disabled notifier or empty update list is a silent no-op.
func (n *Notifier) SendProposalDigest(ctx context.Context, toEmail string, updates []domain.CentralizedUpdate) error {
	if n.client == nil || len(updates) == 0 {
		return nil
	}

	html, err := n.renderDigest(updates)
	if err != nil {
		return fmt.Errorf("rendering digest: %w", err)
	}

	subject := fmt.Sprintf("%d tracker updates are waiting for your review", len(updates))
	if len(updates) == 1 {
		subject = "1 tracker update is waiting for your review"
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{toEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("sending digest: %w", err)
	}
	logger.Info("proposal digest sent", "recipient", toEmail, "updates", len(updates))
	return nil
}

func (n *Notifier) renderDigest(updates []domain.CentralizedUpdate) (string, error) {
	items := make([]map[string]interface{}, 0, len(updates))
	for _, u := range updates {
		items = append(items, map[string]interface{}{
			"title":   u.Title,
			"summary": u.Summary,
			"changes": u.TotalProposedChanges(),
		})
	}
	bindings := map[string]interface{}{
		"count":   len(updates),
		"updates": items,
	}
	out, err := n.engine.ParseAndRenderString(digestTemplate, bindings)
	if err != nil {
		return "", err
	}
	return out, nil
}

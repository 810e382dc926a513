package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSESClient struct {
	input *ses.SendEmailInput
	err   error
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestTemplateRenderer_AllTemplates(t *testing.T) {
	r, err := NewTemplateRenderer("https://api.example.com/")
	require.NoError(t, err)

	data := map[string]string{
		"code":       "abc123",
		"email":      "a@co.com",
		"email_new":  "b@co.com",
		"first_name": "Ada",
	}
	for _, id := range TemplateIDs {
		msg, err := r.Render(id, data)
		require.NoError(t, err, id)
		assert.NotEmpty(t, msg.Subject, id)
		assert.NotContains(t, msg.Subject, "\n", id)
		assert.NotEmpty(t, msg.Text, id)
		assert.NotEmpty(t, msg.HTML, id)
	}
}

func TestTemplateRenderer_Links(t *testing.T) {
	r, err := NewTemplateRenderer("https://api.example.com/")
	require.NoError(t, err)

	msg, err := r.Render(TemplateSignup, map[string]string{"code": "abc123"})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "https://api.example.com/api/accounts/signup/verify/?code=abc123")
	assert.Contains(t, msg.Text, "Hello there")

	msg, err = r.Render(TemplatePasswordReset, map[string]string{"code": "r3s3t"})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "code=r3s3t")

	msg, err = r.Render(TemplateEmailChangeConfirmNew, map[string]string{"code": "c0de", "email_new": "<b>@co.com"})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "/api/accounts/email/change/verify/?code=c0de")
	assert.NotContains(t, msg.HTML, "<b>@co.com", "html is escaped")
}

func TestTemplateRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)

	_, err = r.Render(TemplateID("missing"), nil)
	assert.Error(t, err)
}

func TestSESMailer_Send(t *testing.T) {
	r, err := NewTemplateRenderer("https://api.example.com")
	require.NoError(t, err)
	client := &mockSESClient{}
	m := NewSESMailerWithClient(client, "noreply@example.com", []string{"audit@example.com"}, r, discardLogger())

	err = m.Send(context.Background(), TemplateWelcome, map[string]string{"email": "a@co.com"}, "a@co.com")

	require.NoError(t, err)
	require.NotNil(t, client.input)
	assert.Equal(t, "noreply@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"a@co.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, []string{"audit@example.com"}, client.input.Destination.BccAddresses)
	assert.Equal(t, "UTF-8", aws.ToString(client.input.Message.Subject.Charset))
}

func TestSESMailer_SendError(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)
	m := NewSESMailerWithClient(&mockSESClient{err: errors.New("throttled")}, "noreply@example.com", nil, r, discardLogger())

	err = m.Send(context.Background(), TemplateWelcome, nil, "a@co.com")
	assert.Error(t, err)
}

func TestLogMailer(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)

	assert.NoError(t, NewLogMailer(r, discardLogger()).Send(context.Background(), TemplateWelcome, nil, "a@co.com"))
}

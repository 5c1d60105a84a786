package providers

import (
	"bytes"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "gopkg.in/mail.v2"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func emailMessage(address, body string) notification.Message {
	return notification.Message{
		DeliveryID: 7,
		Channel:    &entities.NotificationChannel{Name: "email", Type: entities.ChannelEmail},
		Address:    address,
		Subject:    "Report due",
		Body:       body,
	}
}

func TestEmailSender_Send(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		d := &fakeDialer{}
		s := newEmailSender("noreply@example.com", d, logger.Discard())

		id, err := s.Send(t.Context(), emailMessage("one@example.com", "Q1 is due"))
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		require.Len(t, d.sent, 1)

		m := d.sent[0]
		assert.Equal(t, []string{"one@example.com"}, m.GetHeader("To"))
		assert.Equal(t, []string{"Report due"}, m.GetHeader("Subject"))

		var buf bytes.Buffer
		_, err = m.WriteTo(&buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Q1 is due")
		assert.NotContains(t, buf.String(), "text/html")
	})

	t.Run("html gets a text alternative", func(t *testing.T) {
		d := &fakeDialer{}
		s := newEmailSender("noreply@example.com", d, logger.Discard())

		_, err := s.Send(t.Context(), emailMessage("one@example.com", "<p>Q1 is <b>due</b></p>"))
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = d.sent[0].WriteTo(&buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "text/plain")
		assert.Contains(t, buf.String(), "text/html")
	})
}

func TestEmailSender_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		address   string
		dialErr   error
		permanent bool
	}{
		{"invalid address", "not-an-address", nil, true},
		{"mailbox unavailable", "one@example.com", &textproto.Error{Code: 550, Msg: "no such user"}, true},
		{"greylisted", "one@example.com", &textproto.Error{Code: 451, Msg: "try later"}, false},
		{"connection refused", "one@example.com", assert.AnError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newEmailSender("noreply@example.com", &fakeDialer{err: tt.dialErr}, logger.Discard())
			_, err := s.Send(t.Context(), emailMessage(tt.address, "body"))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, notification.IsPermanent(err))
		})
	}
}

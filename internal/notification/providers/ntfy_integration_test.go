//go:build integration

package providers_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
	"github.com/MochamaB/FormReporting-sub006/internal/notification/providers"
	"github.com/MochamaB/FormReporting-sub006/internal/testutil/containers"
)

func setupNtfyContainer(t *testing.T, cfg *containers.NtfyConfig) *containers.NtfyContainer {
	t.Helper()
	c, err := containers.NewNtfyContainer(context.Background(), cfg)
	require.NoError(t, err, "failed to start ntfy container")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	return c
}

func uniqueTopic(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func pushTo(address string, priority entities.Priority, title, body string) notification.Message {
	return notification.Message{
		DeliveryID: 1,
		UserID:     1,
		Priority:   priority,
		Channel:    &entities.NotificationChannel{Name: "push", Type: entities.ChannelPush},
		Address:    address,
		Subject:    title,
		Body:       body,
	}
}

func TestShoutrrrSender_NtfyDelivery(t *testing.T) {
	container := setupNtfyContainer(t, nil)
	ctx := context.Background()
	host := container.GetHost(ctx)

	tests := []struct {
		name     string
		title    string
		message  string
		priority entities.Priority
	}{
		{name: "basic", message: "Report Q1 is due on 2026-04-30", priority: entities.PriorityNormal},
		{name: "with_title", title: "Report due", message: "Q1 is due", priority: entities.PriorityHigh},
		{name: "special_chars", message: "Disk > 90% & load < 2", priority: entities.PriorityUrgent},
		{name: "long_message", message: strings.Repeat("A", 2048), priority: entities.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := uniqueTopic(tt.name)
			sender := providers.NewShoutrrrSender(map[string]string{
				"push": fmt.Sprintf("ntfy://%s/%s?scheme=http", host, providers.AddressToken),
			}, 30*time.Second, logger.Discard())

			id, err := sender.Send(ctx, pushTo(topic, tt.priority, tt.title, tt.message))
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			messages, err := container.PollMessages(ctx, topic)
			require.NoError(t, err)
			require.Len(t, messages, 1)
			assert.Equal(t, tt.message, messages[0].Message)
			if tt.title != "" {
				assert.Equal(t, tt.title, messages[0].Title)
			}
		})
	}
}

func TestShoutrrrSender_NtfyHTTPSAgainstPlainServer(t *testing.T) {
	container := setupNtfyContainer(t, nil)
	ctx := context.Background()
	topic := uniqueTopic("https")

	sender := providers.NewShoutrrrSender(map[string]string{
		"push": fmt.Sprintf("ntfy://%s/%s", container.GetHost(ctx), topic),
	}, 10*time.Second, logger.Discard())

	_, err := sender.Send(ctx, pushTo("", entities.PriorityNormal, "", "never arrives"))
	require.Error(t, err)
	assert.False(t, notification.IsPermanent(err), "connection failures are retried")
}

func TestShoutrrrSender_NtfyBasicAuth(t *testing.T) {
	const (
		user = "notifyd"
		pass = "p@ss:w#rd!"
	)
	cfg := containers.DefaultNtfyConfig()
	cfg.EnableAuth = true
	container := setupNtfyContainer(t, &cfg)
	ctx := context.Background()
	host := container.GetHost(ctx)
	require.NoError(t, container.AddUser(ctx, user, pass))

	authURL := func(password, topic string) string {
		u := &url.URL{
			Scheme:   "ntfy",
			User:     url.UserPassword(user, password),
			Host:     host,
			Path:     "/" + topic,
			RawQuery: "scheme=http",
		}
		return u.String()
	}

	t.Run("valid_credentials", func(t *testing.T) {
		topic := uniqueTopic("auth")
		require.NoError(t, container.GrantAccess(ctx, user, topic, "rw"))
		require.NoError(t, providers.ValidateURL(authURL(pass, topic)))

		sender := providers.NewShoutrrrSender(map[string]string{"push": authURL(pass, topic)}, 30*time.Second, logger.Discard())
		_, err := sender.Send(ctx, pushTo("", entities.PriorityNormal, "", "authenticated"))
		require.NoError(t, err)

		messages, err := container.PollMessagesWithAuth(ctx, topic, user, pass)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "authenticated", messages[0].Message)
	})

	t.Run("wrong_password", func(t *testing.T) {
		topic := uniqueTopic("wrong")
		require.NoError(t, container.GrantAccess(ctx, user, topic, "rw"))

		sender := providers.NewShoutrrrSender(map[string]string{"push": authURL("wrong", topic)}, 30*time.Second, logger.Discard())
		_, err := sender.Send(ctx, pushTo("", entities.PriorityNormal, "", "denied"))
		assert.Error(t, err)
	})

	t.Run("no_credentials", func(t *testing.T) {
		topic := uniqueTopic("anon")
		require.NoError(t, container.GrantAccess(ctx, user, topic, "rw"))

		sender := providers.NewShoutrrrSender(map[string]string{
			"push": fmt.Sprintf("ntfy://%s/%s?scheme=http", host, topic),
		}, 30*time.Second, logger.Discard())
		_, err := sender.Send(ctx, pushTo("", entities.PriorityNormal, "", "denied"))
		assert.Error(t, err)
	})
}

package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

func TestCreateNotification_FansOutAcrossChannels(t *testing.T) {
	env := newTestEnv(t)
	env.channel(t, "email", entities.ChannelEmail)
	env.channel(t, "in_app", entities.ChannelInApp)
	env.channel(t, "sms", entities.ChannelSMS)
	env.template(t, "REPORT_DUE", entities.ChannelEmail, entities.ChannelInApp)
	env.start(t)

	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode:     "REPORT_DUE",
		SourceEntityType: "report",
		SourceEntityID:   "42",
		UserIDs:          []uint{2, 1, 2},
		Placeholders:     dueValues(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients, "duplicate user ids collapse")
	require.Len(t, result.Deliveries, 4, "2 users x 2 template channels")
	for _, d := range result.Deliveries {
		assert.Equal(t, entities.DeliveryDelivered, d.Status)
		assert.NotEmpty(t, d.ExternalMessageID)
	}
	assert.Equal(t, 2, env.senders[entities.ChannelEmail].Calls())
	assert.Equal(t, 2, env.senders[entities.ChannelInApp].Calls())
	assert.Equal(t, 0, env.senders[entities.ChannelSMS].Calls(), "sms is not a template default")

	n, err := env.repos.Notifications.Get(t.Context(), result.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, "Report Q1 due", n.Title)
	assert.Equal(t, "Q1 is due on 2026-04-30", n.Message)
	assert.Equal(t, entities.PriorityNormal, n.Priority)

	recipients, err := env.repos.Notifications.ListRecipients(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Len(t, recipients, 2)
}

func TestCreateNotification_MissingPlaceholderPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.channel(t, "email", entities.ChannelEmail)
	env.template(t, "REPORT_DUE")
	env.start(t)

	_, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE",
		UserIDs:      []uint{1},
		Placeholders: map[string]string{"ReportName": "Q1"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingPlaceholder))
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))

	var count int64
	require.NoError(t, env.db.Model(&entities.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, env.db.Model(&entities.NotificationDelivery{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateNotification_UnknownAndInactiveTemplate(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.template(t, "OLD")
	tmpl.IsActive = false
	require.NoError(t, env.repos.Templates.Update(t.Context(), tmpl))

	_, err := env.svc.CreateNotification(t.Context(), CreateRequest{TemplateCode: "NOPE", UserIDs: []uint{1}})
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
	assert.Equal(t, errors.CategoryNotFound, errors.CategoryOf(err))

	_, err = env.svc.CreateNotification(t.Context(), CreateRequest{TemplateCode: "OLD", UserIDs: []uint{1}, Placeholders: dueValues()})
	assert.True(t, errors.Is(err, ErrTemplateInactive))
}

func TestCreateNotification_ExpandsRolesAndOverridesChannels(t *testing.T) {
	env := newTestEnv(t)
	env.channel(t, "email", entities.ChannelEmail)
	env.channel(t, "in_app", entities.ChannelInApp)
	env.template(t, "REPORT_DUE", entities.ChannelEmail)
	env.start(t)

	urgent := entities.PriorityUrgent
	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE",
		Recipients: entities.RecipientSpec{Targets: []entities.RecipientTarget{
			{Type: entities.TargetRole, ID: "ops"},
			{Type: entities.TargetDepartment, ID: "finance"},
		}},
		Placeholders: dueValues(),
		Overrides:    Overrides{Channels: []entities.ChannelType{entities.ChannelInApp}, Priority: &urgent},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Recipients)
	require.Len(t, result.Deliveries, 3)
	for _, d := range result.Deliveries {
		assert.Equal(t, entities.ChannelInApp, d.ChannelType)
	}
	assert.Equal(t, 0, env.senders[entities.ChannelEmail].Calls())
	assert.Equal(t, entities.PriorityUrgent, env.senders[entities.ChannelInApp].Last().Priority)
}

func TestCreateNotification_NoEligibleTargetsIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	email := env.channel(t, "email", entities.ChannelEmail)
	env.template(t, "REPORT_DUE", entities.ChannelEmail)
	env.start(t)

	require.NoError(t, env.svc.SavePreference(t.Context(), &entities.UserNotificationPreference{
		UserID: 1, ChannelID: email.ID, IsEnabled: false, MinimumPriority: entities.PriorityLow,
	}))

	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE", UserIDs: []uint{1}, Placeholders: dueValues(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recipients)
	assert.Empty(t, result.Deliveries)
}

func TestCreateNotification_AddressFailureSkipsOnlyThatUser(t *testing.T) {
	directory := &failingDirectory{StaticDirectory: testDirectory(), users: map[uint]bool{2: true}}
	env := newTestEnvWithDirectory(t, directory, directory)
	env.channel(t, "email", entities.ChannelEmail)
	env.template(t, "REPORT_DUE", entities.ChannelEmail)
	env.start(t)

	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE",
		UserIDs:      []uint{1, 2, 3},
		Placeholders: dueValues(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Recipients)
	require.Len(t, result.Deliveries, 2)

	delivered := make([]uint, 0, len(result.Deliveries))
	for _, d := range result.Deliveries {
		assert.Equal(t, entities.DeliveryDelivered, d.Status)
		delivered = append(delivered, d.UserID)
	}
	assert.ElementsMatch(t, []uint{1, 3}, delivered)
	assert.Equal(t, 2, env.senders[entities.ChannelEmail].Calls())
}

func TestCreateNotification_MembershipFailureKeepsOtherTargets(t *testing.T) {
	directory := &failingDirectory{StaticDirectory: testDirectory(), targets: map[string]bool{"ops": true}}
	env := newTestEnvWithDirectory(t, directory, directory)
	env.channel(t, "in_app", entities.ChannelInApp)
	env.template(t, "REPORT_DUE", entities.ChannelInApp)
	env.start(t)

	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE",
		UserIDs:      []uint{3},
		Recipients: entities.RecipientSpec{Targets: []entities.RecipientTarget{
			{Type: entities.TargetRole, ID: "ops"},
		}},
		Placeholders: dueValues(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recipients)
	require.Len(t, result.Deliveries, 1)
	assert.EqualValues(t, 3, result.Deliveries[0].UserID)

	// Nothing expandable: the request fails before anything is stored.
	_, err = env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE",
		Recipients: entities.RecipientSpec{Targets: []entities.RecipientTarget{
			{Type: entities.TargetRole, ID: "ops"},
		}},
		Placeholders: dueValues(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))

	var count int64
	require.NoError(t, env.db.Model(&entities.Notification{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateNotification_ScheduledDateDefersDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.channel(t, "email", entities.ChannelEmail)
	env.template(t, "REPORT_DUE", entities.ChannelEmail)
	env.start(t)

	at := testNow.Add(2 * time.Hour)
	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE", UserIDs: []uint{1}, Placeholders: dueValues(),
		Overrides: Overrides{ScheduledDate: &at},
	})
	require.NoError(t, err)
	require.Len(t, result.Deliveries, 1)
	assert.Equal(t, entities.DeliveryPending, result.Deliveries[0].Status)
	assert.Equal(t, 0, env.senders[entities.ChannelEmail].Calls())

	n, err := env.svc.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(2 * time.Hour)
	n, err = env.svc.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, entities.DeliveryDelivered, env.delivery(t, result.Deliveries[0].ID).Status)
}

func TestDeactivate_CancelsPendingDeliveries(t *testing.T) {
	env := newTestEnv(t)
	env.channel(t, "email", entities.ChannelEmail)
	env.template(t, "REPORT_DUE", entities.ChannelEmail)
	env.start(t)

	at := testNow.Add(time.Hour)
	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE", UserIDs: []uint{1}, Placeholders: dueValues(),
		Overrides: Overrides{ScheduledDate: &at},
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Deactivate(t.Context(), result.NotificationID))
	d := env.delivery(t, result.Deliveries[0].ID)
	assert.Equal(t, entities.DeliveryCancelled, d.Status)
	assert.Equal(t, entities.CancelReasonInactive, d.CancelReason)
}

func TestInboxOperations(t *testing.T) {
	env := newTestEnv(t)
	env.channel(t, "in_app", entities.ChannelInApp)
	env.template(t, "REPORT_DUE", entities.ChannelInApp)
	env.start(t)

	result, err := env.svc.CreateNotification(t.Context(), CreateRequest{
		TemplateCode: "REPORT_DUE", UserIDs: []uint{1}, Placeholders: dueValues(),
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.MarkRead(t.Context(), result.NotificationID, 1))
	require.NoError(t, env.svc.MarkRead(t.Context(), result.NotificationID, 1))
	stats, err := env.svc.Stats(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(0), stats.Unread)

	items, total, err := env.svc.Inbox(t.Context(), 1, repository.InboxFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.True(t, items[0].Recipient.IsRead)
}

func TestSavePreference_Validation(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.SavePreference(t.Context(), &entities.UserNotificationPreference{
		UserID: 1, ChannelID: 1, IsEnabled: true, Frequency: "sometimes", QuietHoursStart: "25:00",
	})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestManager_SingletonLifecycle(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	assert.Nil(t, GetService())

	env := newTestEnv(t)
	require.NoError(t, SetServiceForTesting(env.svc))
	assert.Same(t, env.svc, GetService())
	assert.Error(t, SetServiceForTesting(env.svc))
}

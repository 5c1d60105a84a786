// Package notification renders, resolves and delivers notifications.
package notification

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

const (
	templateCacheTTL     = 5 * time.Minute
	templateCacheCleanup = 10 * time.Minute

	defaultNotificationType = "general"
)

// ServiceConfig wires the service's collaborators.
type ServiceConfig struct {
	Repos      *repository.Repositories
	Members    MembershipLookup
	Addresses  AddressBook
	Dispatcher DispatcherConfig
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     logger.Logger
}

// Service is the single entry point for producing notifications.
type Service struct {
	repos      *repository.Repositories
	renderer   *Renderer
	resolver   *Resolver
	dispatcher *Dispatcher
	counters   *SendCounters
	templates  *cache.Cache
	clock      clock.Clock
	log        logger.Logger
}

// NewService builds the renderer, resolver, counters and dispatcher.
func NewService(config *ServiceConfig) *Service {
	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := config.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.String("component", componentNotification))

	counters := NewSendCounters(config.Repos.Channels, config.Metrics, log)
	return &Service{
		repos:      config.Repos,
		renderer:   NewRenderer(),
		resolver:   NewResolver(config.Members, config.Addresses, config.Repos.Preferences, clk, log),
		dispatcher: NewDispatcher(config.Dispatcher, config.Repos, counters, clk, config.Metrics, log),
		counters:   counters,
		templates:  cache.New(templateCacheTTL, templateCacheCleanup),
		clock:      clk,
		log:        log,
	}
}

// Start seeds the send counters from the channel rows.
func (s *Service) Start(ctx context.Context) error {
	return s.counters.Load(ctx, s.clock.Now())
}

// Dispatcher returns the delivery dispatcher.
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// Resolver returns the recipient resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Renderer returns the template renderer.
func (s *Service) Renderer() *Renderer { return s.renderer }

// Counters returns the daily send counter arena.
func (s *Service) Counters() *SendCounters { return s.counters }

// Overrides adjust a single notification away from its template defaults.
type Overrides struct {
	Type          string                 `json:"type,omitempty"`
	Priority      *entities.Priority     `json:"priority,omitempty"`
	Channels      []entities.ChannelType `json:"channels,omitempty"`
	ScheduledDate *time.Time             `json:"scheduled_date,omitempty"`
	ExpiryDate    *time.Time             `json:"expiry_date,omitempty"`
	CreatedBy     *uint                  `json:"created_by,omitempty"`
}

// CreateRequest is the input of CreateNotification.
type CreateRequest struct {
	TemplateCode     string                 `json:"template_code"`
	SourceEntityType string                 `json:"source_entity_type,omitempty"`
	SourceEntityID   string                 `json:"source_entity_id,omitempty"`
	UserIDs          []uint                 `json:"user_ids,omitempty"`
	Recipients       entities.RecipientSpec `json:"recipients"`
	Placeholders     map[string]string      `json:"placeholders,omitempty"`
	Overrides        Overrides              `json:"overrides"`
}

// CreateResult summarises what CreateNotification did.
type CreateResult struct {
	NotificationID uint                            `json:"notification_id"`
	Recipients     int                             `json:"recipients"`
	Deliveries     []entities.NotificationDelivery `json:"deliveries"`
	Digested       int                             `json:"digested"`
}

// CreateNotification validates and renders the template, persists the
// notification with its recipients and dispatches it. Validation failures,
// including missing placeholders, persist nothing. Per-target delivery
// failures are recorded on the delivery rows and never returned.
func (s *Service) CreateNotification(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	tmpl, err := s.Template(ctx, req.TemplateCode)
	if err != nil {
		return nil, err
	}
	if err := s.renderer.Validate(tmpl, req.Placeholders); err != nil {
		return nil, errors.New(err).
			Component(componentNotification).
			Category(errors.CategoryValidation).
			Context("template", tmpl.Code).
			Build()
	}

	channels, err := s.selectChannels(ctx, req.Overrides.Channels, tmpl.DefaultChannels)
	if err != nil {
		return nil, err
	}
	channelTypes := []entities.ChannelType{entities.ChannelInApp}
	for _, ch := range channels {
		channelTypes = append(channelTypes, ch.Type)
	}
	contents, err := s.renderer.RenderAll(tmpl, req.Placeholders, channelTypes)
	if err != nil {
		return nil, errors.New(err).
			Component(componentNotification).
			Category(errors.CategoryValidation).
			Build()
	}

	spec := entities.RecipientSpec{
		Targets: req.Recipients.Targets,
		UserIDs: append(slices.Clone(req.UserIDs), req.Recipients.UserIDs...),
	}
	users, err := s.resolver.ExpandUsers(ctx, spec)
	if err != nil {
		return nil, err
	}

	n := s.buildNotification(tmpl, req, contents[entities.ChannelInApp])
	if err := s.repos.Notifications.CreateWithRecipients(ctx, n, users); err != nil {
		return nil, errors.New(err).
			Component(componentNotification).
			Category(errors.CategoryDatabase).
			Build()
	}

	result := &CreateResult{NotificationID: n.ID, Recipients: len(users)}
	targets := s.resolver.ResolveUsers(ctx, users, ResolveRequest{
		NotificationType: n.Type,
		Priority:         n.Priority,
		Channels:         channels,
		ScheduledDate:    n.ScheduledDate,
	})

	var immediate []DeliveryTarget
	for _, t := range targets {
		if t.Immediate() {
			immediate = append(immediate, t)
			continue
		}
		if err := s.enqueueDigest(ctx, n, t); err != nil {
			s.log.Error("failed to queue digest entry",
				logger.Uint64("notification_id", uint64(n.ID)),
				logger.Uint64("user_id", uint64(t.UserID)),
				logger.Error(err))
			continue
		}
		result.Digested++
	}
	result.Deliveries = s.dispatcher.Dispatch(ctx, n, immediate, contents)

	s.log.Info("notification created",
		logger.Uint64("notification_id", uint64(n.ID)),
		logger.String("template", tmpl.Code),
		logger.Int("recipients", len(users)),
		logger.Int("deliveries", len(result.Deliveries)),
		logger.Int("digested", result.Digested))
	return result, nil
}

func (s *Service) buildNotification(tmpl *entities.NotificationTemplate, req CreateRequest, inApp RenderedContent) *entities.Notification {
	priority := tmpl.DefaultPriority
	if req.Overrides.Priority != nil && req.Overrides.Priority.Valid() {
		priority = *req.Overrides.Priority
	}
	if !priority.Valid() {
		priority = entities.PriorityNormal
	}
	notificationType := tmpl.NotificationType
	if req.Overrides.Type != "" {
		notificationType = req.Overrides.Type
	}
	if notificationType == "" {
		notificationType = defaultNotificationType
	}
	title := inApp.Subject
	if title == "" {
		title = tmpl.Name
	}
	templateID := tmpl.ID
	return &entities.Notification{
		TemplateID:       &templateID,
		Type:             notificationType,
		Title:            title,
		Message:          inApp.Body,
		Priority:         priority,
		SourceEntityType: req.SourceEntityType,
		SourceEntityID:   req.SourceEntityID,
		ScheduledDate:    req.Overrides.ScheduledDate,
		ExpiryDate:       req.Overrides.ExpiryDate,
		IsActive:         true,
		CreatedBy:        req.Overrides.CreatedBy,
	}
}

// selectChannels picks the override set, else the template defaults, else
// every enabled channel. Named channels are returned even when disabled so
// the dispatcher records the cancellation.
func (s *Service) selectChannels(ctx context.Context, override, defaults []entities.ChannelType) ([]*entities.NotificationChannel, error) {
	wanted := override
	if len(wanted) == 0 {
		wanted = defaults
	}

	var list []entities.NotificationChannel
	var err error
	if len(wanted) == 0 {
		list, err = s.repos.Channels.ListEnabled(ctx)
	} else {
		list, err = s.repos.Channels.List(ctx)
	}
	if err != nil {
		return nil, err
	}

	channels := make([]*entities.NotificationChannel, 0, len(list))
	for i := range list {
		if len(wanted) == 0 || slices.Contains(wanted, list[i].Type) {
			channels = append(channels, &list[i])
		}
	}
	slices.SortStableFunc(channels, func(a, b *entities.NotificationChannel) int {
		return a.PriorityRank - b.PriorityRank
	})
	return channels, nil
}

// Template returns an active template by code, cached briefly.
func (s *Service) Template(ctx context.Context, code string) (*entities.NotificationTemplate, error) {
	if cached, ok := s.templates.Get(code); ok {
		return cached.(*entities.NotificationTemplate), nil
	}
	tmpl, err := s.repos.Templates.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return nil, errors.New(ErrTemplateNotFound).
			Component(componentNotification).
			Category(errors.CategoryNotFound).
			Context("template", code).
			Build()
	}
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, errors.New(ErrTemplateInactive).
			Component(componentNotification).
			Category(errors.CategoryValidation).
			Context("template", code).
			Build()
	}
	s.templates.SetDefault(code, tmpl)
	return tmpl, nil
}

// InvalidateTemplate drops a cached template after an edit.
func (s *Service) InvalidateTemplate(code string) {
	s.templates.Delete(code)
}

// Inbox lists a user's notifications.
func (s *Service) Inbox(ctx context.Context, userID uint, filter repository.InboxFilter) ([]repository.InboxItem, int64, error) {
	return s.repos.Notifications.ListForUser(ctx, userID, filter)
}

// MarkRead marks a notification read for a user.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID uint) error {
	return s.repos.Notifications.MarkRead(ctx, notificationID, userID, s.clock.Now())
}

// MarkDismissed dismisses a notification for a user.
func (s *Service) MarkDismissed(ctx context.Context, notificationID, userID uint) error {
	return s.repos.Notifications.MarkDismissed(ctx, notificationID, userID, s.clock.Now())
}

// MarkActioned records that a user acted on a notification.
func (s *Service) MarkActioned(ctx context.Context, notificationID, userID uint) error {
	return s.repos.Notifications.MarkActioned(ctx, notificationID, userID, s.clock.Now())
}

// Stats returns inbox counters for a user.
func (s *Service) Stats(ctx context.Context, userID uint) (*repository.InboxStats, error) {
	return s.repos.Notifications.Stats(ctx, userID)
}

// Deliveries lists every delivery of a notification.
func (s *Service) Deliveries(ctx context.Context, notificationID uint) ([]entities.NotificationDelivery, error) {
	return s.repos.Deliveries.ListByNotification(ctx, notificationID)
}

// Deactivate turns a notification off and cancels its pending deliveries.
func (s *Service) Deactivate(ctx context.Context, notificationID uint) error {
	if err := s.repos.Notifications.Deactivate(ctx, notificationID); err != nil {
		return err
	}
	_, err := s.repos.Deliveries.CancelForNotification(ctx, notificationID, entities.CancelReasonInactive)
	return err
}

// Preferences lists a user's stored preferences.
func (s *Service) Preferences(ctx context.Context, userID uint) ([]entities.UserNotificationPreference, error) {
	return s.repos.Preferences.ListForUser(ctx, userID)
}

// SavePreference validates and stores a preference.
func (s *Service) SavePreference(ctx context.Context, pref *entities.UserNotificationPreference) error {
	if pref.Frequency == "" {
		pref.Frequency = entities.FrequencyImmediate
	}
	if pref.MinimumPriority == 0 {
		pref.MinimumPriority = entities.PriorityLow
	}
	var problems []string
	if pref.UserID == 0 || pref.ChannelID == 0 {
		problems = append(problems, "user_id and channel_id are required")
	}
	if !pref.Frequency.Valid() {
		problems = append(problems, "unknown frequency "+string(pref.Frequency))
	}
	if !pref.MinimumPriority.Valid() {
		problems = append(problems, "invalid minimum_priority")
	}
	for _, v := range []string{pref.QuietHoursStart, pref.QuietHoursEnd} {
		if _, ok := parseClock(v); v != "" && !ok {
			problems = append(problems, "quiet hours must be HH:MM")
		}
	}
	if pref.Timezone != "" {
		if _, err := time.LoadLocation(pref.Timezone); err != nil {
			problems = append(problems, "unknown timezone "+pref.Timezone)
		}
	}
	if len(problems) > 0 {
		return errors.Newf("invalid preference: %v", problems).
			Component(componentNotification).
			Category(errors.CategoryValidation).
			Build()
	}
	if err := s.repos.Preferences.Upsert(ctx, pref); err != nil {
		return err
	}
	s.resolver.InvalidateUser(pref.UserID)
	return nil
}

// Channels lists every channel.
func (s *Service) Channels(ctx context.Context) ([]entities.NotificationChannel, error) {
	return s.repos.Channels.List(ctx)
}

// SetChannelEnabled toggles a channel.
func (s *Service) SetChannelEnabled(ctx context.Context, channelID uint, enabled bool) error {
	return s.repos.Channels.SetEnabled(ctx, channelID, enabled)
}

// ProcessDue runs the retry sweep.
func (s *Service) ProcessDue(ctx context.Context) (int, error) {
	return s.dispatcher.ProcessDue(ctx)
}

// ResetCounters zeroes daily counters when the date has changed.
func (s *Service) ResetCounters(ctx context.Context) (bool, error) {
	return s.counters.Reset(ctx, s.clock.Now())
}

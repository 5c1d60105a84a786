package notification

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

const (
	preferenceCacheTTL     = time.Minute
	preferenceCacheCleanup = 5 * time.Minute
)

// MembershipLookup expands a role or department id into user ids.
type MembershipLookup interface {
	ExpandRoleOrDepartment(ctx context.Context, targetType, id string) ([]uint, error)
}

// AddressBook returns a user's address for a channel type, or "" when the
// user has none.
type AddressBook interface {
	Address(ctx context.Context, userID uint, channel entities.ChannelType) (string, error)
}

// DeliveryTarget is one resolved (user, channel) pair. A Frequency other
// than immediate means the target is queued for a digest instead of sent.
type DeliveryTarget struct {
	UserID            uint
	Channel           *entities.NotificationChannel
	Address           string
	EffectiveSendTime time.Time
	Frequency         entities.Frequency
	Deferred          bool
}

// Immediate reports whether the target is dispatched rather than digested.
func (t DeliveryTarget) Immediate() bool {
	return t.Frequency == "" || t.Frequency == entities.FrequencyImmediate
}

// ResolveRequest describes who to reach and with what.
type ResolveRequest struct {
	Recipients       entities.RecipientSpec
	NotificationType string
	Priority         entities.Priority
	Channels         []*entities.NotificationChannel
	ScheduledDate    *time.Time
}

// Resolver expands recipient specs and applies user preferences.
type Resolver struct {
	members     MembershipLookup
	addresses   AddressBook
	preferences repository.PreferenceRepository
	cache       *cache.Cache
	clock       clock.Clock
	log         logger.Logger
}

// NewResolver creates a Resolver with a short-lived preference cache.
func NewResolver(members MembershipLookup, addresses AddressBook, prefs repository.PreferenceRepository, clk clock.Clock, log logger.Logger) *Resolver {
	return &Resolver{
		members:     members,
		addresses:   addresses,
		preferences: prefs,
		cache:       cache.New(preferenceCacheTTL, preferenceCacheCleanup),
		clock:       clk,
		log:         log,
	}
}

// ExpandUsers returns the sorted, deduplicated user ids named by spec.
// A role or department that fails to expand is logged and skipped; the
// error is returned only when nothing could be expanded at all.
func (r *Resolver) ExpandUsers(ctx context.Context, spec entities.RecipientSpec) ([]uint, error) {
	users := slices.Clone(spec.UserIDs)
	var lookupErrs []error
	for _, target := range spec.Targets {
		switch target.Type {
		case entities.TargetUser:
			id, err := strconv.ParseUint(target.ID, 10, 64)
			if err != nil {
				return nil, errors.Newf("invalid user id %q in recipient spec", target.ID).
					Component(componentNotification).
					Category(errors.CategoryValidation).
					Build()
			}
			users = append(users, uint(id))
		case entities.TargetRole, entities.TargetDepartment:
			if r.members == nil {
				return nil, errors.Newf("no membership lookup for %s targets", target.Type).
					Component(componentNotification).
					Category(errors.CategoryConfiguration).
					Build()
			}
			ids, err := r.members.ExpandRoleOrDepartment(ctx, target.Type, target.ID)
			if err != nil {
				r.log.Warn("failed to expand recipient target, skipping",
					logger.String("target_type", target.Type),
					logger.String("target_id", target.ID),
					logger.Error(err))
				lookupErrs = append(lookupErrs, fmt.Errorf("expand %s %s: %w", target.Type, target.ID, err))
				continue
			}
			users = append(users, ids...)
		default:
			return nil, errors.Newf("unknown recipient target type %q", target.Type).
				Component(componentNotification).
				Category(errors.CategoryValidation).
				Build()
		}
	}
	users = slices.DeleteFunc(users, func(id uint) bool { return id == 0 })
	if len(users) == 0 && len(lookupErrs) > 0 {
		return nil, errors.New(errors.Join(lookupErrs...)).
			Component(componentNotification).
			Category(errors.CategoryNetwork).
			Build()
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

// Resolve expands req.Recipients and filters each (user, channel) through
// the user's preferences. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) ([]DeliveryTarget, error) {
	users, err := r.ExpandUsers(ctx, req.Recipients)
	if err != nil {
		return nil, err
	}
	return r.ResolveUsers(ctx, users, req), nil
}

// ResolveUsers applies preferences for already expanded users. A lookup
// failure drops only the (user, channel) pair it belongs to.
func (r *Resolver) ResolveUsers(ctx context.Context, users []uint, req ResolveRequest) []DeliveryTarget {
	now := r.clock.Now()
	var targets []DeliveryTarget
	for _, userID := range users {
		for _, ch := range req.Channels {
			target, ok, err := r.resolveOne(ctx, userID, ch, req, now)
			if err != nil {
				r.log.Warn("failed to resolve recipient, skipping channel",
					logger.Uint64("user_id", uint64(userID)),
					logger.String("channel", ch.Name),
					logger.Error(err))
				continue
			}
			if ok {
				targets = append(targets, target)
			}
		}
	}
	return targets
}

func (r *Resolver) resolveOne(ctx context.Context, userID uint, ch *entities.NotificationChannel, req ResolveRequest, now time.Time) (DeliveryTarget, bool, error) {
	pref, err := r.Preference(ctx, userID, ch.ID, req.NotificationType)
	if err != nil {
		return DeliveryTarget{}, false, err
	}
	if !pref.IsEnabled || pref.Frequency == entities.FrequencyNever {
		return DeliveryTarget{}, false, nil
	}
	if req.Priority < pref.MinimumPriority {
		return DeliveryTarget{}, false, nil
	}

	address, err := r.AddressFor(ctx, userID, ch, pref)
	if err != nil {
		return DeliveryTarget{}, false, err
	}
	if address == "" {
		r.log.Debug("no address for recipient, skipping channel",
			logger.Uint64("user_id", uint64(userID)),
			logger.String("channel", string(ch.Type)))
		return DeliveryTarget{}, false, nil
	}

	sendAt := now
	deferred := false
	if until, quiet := quietUntil(pref, now); quiet {
		sendAt = until
		deferred = true
	}
	if req.ScheduledDate != nil && req.ScheduledDate.After(sendAt) {
		sendAt = *req.ScheduledDate
		deferred = true
	}

	frequency := pref.Frequency
	if frequency == "" {
		frequency = entities.FrequencyImmediate
	}
	return DeliveryTarget{
		UserID:            userID,
		Channel:           ch,
		Address:           address,
		EffectiveSendTime: sendAt.UTC(),
		Frequency:         frequency,
		Deferred:          deferred,
	}, true, nil
}

// AddressFor returns the custom address from pref, else the address book
// entry. In-app deliveries are addressed by user id.
func (r *Resolver) AddressFor(ctx context.Context, userID uint, ch *entities.NotificationChannel, pref *entities.UserNotificationPreference) (string, error) {
	if pref != nil && pref.CustomAddress != "" {
		return pref.CustomAddress, nil
	}
	if ch.Type == entities.ChannelInApp {
		return strconv.FormatUint(uint64(userID), 10), nil
	}
	if r.addresses == nil {
		return "", nil
	}
	return r.addresses.Address(ctx, userID, ch.Type)
}

func preferenceKey(userID, channelID uint, notificationType string) string {
	return fmt.Sprintf("%d:%d:%s", userID, channelID, notificationType)
}

// Preference returns the effective preference, falling back to the default
// when the user has no stored row.
func (r *Resolver) Preference(ctx context.Context, userID, channelID uint, notificationType string) (*entities.UserNotificationPreference, error) {
	key := preferenceKey(userID, channelID, notificationType)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*entities.UserNotificationPreference), nil
	}

	pref, err := r.preferences.Get(ctx, userID, channelID, notificationType)
	if errors.Is(err, repository.ErrPreferenceNotFound) {
		def := entities.DefaultPreference(userID, channelID, notificationType)
		pref = &def
	} else if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, pref)
	return pref, nil
}

// InvalidateUser drops cached preferences for a user.
func (r *Resolver) InvalidateUser(userID uint) {
	prefix := strconv.FormatUint(uint64(userID), 10) + ":"
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
		}
	}
}

// quietUntil reports whether now falls inside the preference's quiet window
// and, if so, when the window ends. The window is [start, end) in the
// preference's timezone and may wrap midnight.
func quietUntil(pref *entities.UserNotificationPreference, now time.Time) (time.Time, bool) {
	start, okStart := parseClock(pref.QuietHoursStart)
	end, okEnd := parseClock(pref.QuietHoursEnd)
	if !okStart || !okEnd || start == end {
		return time.Time{}, false
	}

	loc := now.Location()
	if pref.Timezone != "" {
		if l, err := time.LoadLocation(pref.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	var inside bool
	if start < end {
		inside = minute >= start && minute < end
	} else {
		inside = minute >= start || minute < end
	}
	if !inside {
		return time.Time{}, false
	}

	y, m, d := local.Date()
	until := time.Date(y, m, d, end/60, end%60, 0, 0, loc)
	if !until.After(local) {
		until = until.AddDate(0, 0, 1)
	}
	return until.UTC(), true
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

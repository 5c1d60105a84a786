package providers

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

// AddressToken in a shoutrrr URL is replaced by the delivery's recipient
// address, e.g. "twilio://sid:token@+15550000/{address}".
const AddressToken = "{address}"

// Services that accept a title parameter.
var titledServices = map[string]bool{
	"ntfy":     true,
	"gotify":   true,
	"pushover": true,
	"telegram": true,
}

var ntfyPriorities = map[entities.Priority]string{
	entities.PriorityLow:    "low",
	entities.PriorityNormal: "default",
	entities.PriorityHigh:   "high",
	entities.PriorityUrgent: "max",
}

// serviceSender is the part of shoutrrr's router the sender uses.
type serviceSender interface {
	Send(message string, params *types.Params) []error
}

// ShoutrrrSender delivers SMS and push through shoutrrr service URLs. The
// URL is looked up by channel name, then from the channel's provider config
// key "url".
type ShoutrrrSender struct {
	urls    map[string]string
	timeout time.Duration
	log     logger.Logger
	create  func(rawURL string) (serviceSender, error)

	mu      sync.Mutex
	routers map[string]serviceSender
}

// NewShoutrrrSender creates a ShoutrrrSender. urls maps channel names to
// service URLs.
func NewShoutrrrSender(urls map[string]string, timeout time.Duration, log logger.Logger) *ShoutrrrSender {
	return &ShoutrrrSender{
		urls:    urls,
		timeout: timeout,
		log:     log.With(logger.String("provider", "shoutrrr")),
		create: func(rawURL string) (serviceSender, error) {
			return shoutrrr.CreateSender(rawURL)
		},
		routers: make(map[string]serviceSender),
	}
}

// ValidateURL checks that rawURL names a service shoutrrr can build.
func ValidateURL(rawURL string) error {
	_, err := shoutrrr.CreateSender(expandAddress(rawURL, "placeholder"))
	return err
}

func (s *ShoutrrrSender) serviceURL(ch *entities.NotificationChannel) string {
	if u, ok := s.urls[ch.Name]; ok && u != "" {
		return u
	}
	return ch.ConfigString("url")
}

func (s *ShoutrrrSender) router(rawURL string) (serviceSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.routers[rawURL]; ok {
		return r, nil
	}
	r, err := s.create(rawURL)
	if err != nil {
		return nil, err
	}
	s.routers[rawURL] = r
	return r, nil
}

// Send implements notification.ChannelSender.
func (s *ShoutrrrSender) Send(ctx context.Context, msg notification.Message) (string, error) {
	template := s.serviceURL(msg.Channel)
	if template == "" {
		return "", notification.Permanent("no shoutrrr url for channel "+msg.Channel.Name, nil)
	}
	rawURL := expandAddress(template, msg.Address)
	r, err := s.router(rawURL)
	if err != nil {
		return "", notification.Permanent("invalid shoutrrr url", err)
	}

	params := types.Params{}
	scheme := serviceScheme(rawURL)
	if msg.Subject != "" && titledServices[scheme] {
		params["title"] = msg.Subject
	}
	if scheme == "ntfy" {
		if p, ok := ntfyPriorities[msg.Priority]; ok {
			params["priority"] = p
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan []error, 1)
	go func() {
		done <- r.Send(msg.Body, &params)
	}()

	select {
	case <-ctx.Done():
		return "", notification.Transient("shoutrrr send timed out", ctx.Err())
	case errs := <-done:
		if err := errors.Join(errs...); err != nil {
			return "", notification.Transient(scheme, err)
		}
	}
	s.log.Debug("shoutrrr message sent",
		logger.Uint64("delivery_id", uint64(msg.DeliveryID)),
		logger.String("service", scheme))
	return uuid.NewString(), nil
}

func expandAddress(rawURL, address string) string {
	if !strings.Contains(rawURL, AddressToken) {
		return rawURL
	}
	return strings.ReplaceAll(rawURL, AddressToken, url.PathEscape(address))
}

func serviceScheme(rawURL string) string {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

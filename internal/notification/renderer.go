package notification

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/k3a/html2text"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

const (
	smsMaxRunes  = 160
	pushMaxRunes = 240
	ellipsis     = "…"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// RenderedContent is a template rendered for one channel family.
type RenderedContent struct {
	Channel entities.ChannelType
	Subject string
	Body    string
}

// ContentSet holds rendered content keyed by channel type.
type ContentSet map[entities.ChannelType]RenderedContent

// Renderer substitutes {{Name}} tokens. It holds no state and is safe for
// concurrent use.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Validate checks every variant of tmpl against placeholders without
// producing output.
func (r *Renderer) Validate(tmpl *entities.NotificationTemplate, placeholders map[string]string) error {
	var missing []string
	for _, text := range []string{tmpl.SubjectTemplate, tmpl.BodyTemplate, tmpl.SmsTemplate, tmpl.PushTemplate} {
		_, m := substitute(text, placeholders)
		missing = append(missing, m...)
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return &RenderError{TemplateCode: tmpl.Code, Missing: slices.Compact(missing)}
}

// Render produces the content for channel. SMS and push use their own
// variant when present and otherwise a truncated plain-text body.
func (r *Renderer) Render(tmpl *entities.NotificationTemplate, placeholders map[string]string, channel entities.ChannelType) (RenderedContent, error) {
	out := RenderedContent{Channel: channel}
	var missing []string

	subject, m := substitute(tmpl.SubjectTemplate, placeholders)
	missing = append(missing, m...)
	body, m := substitute(tmpl.BodyTemplate, placeholders)
	missing = append(missing, m...)

	switch channel {
	case entities.ChannelSMS:
		if tmpl.SmsTemplate != "" {
			text, m := substitute(tmpl.SmsTemplate, placeholders)
			missing = append(missing, m...)
			out.Body = truncateRunes(text, smsMaxRunes)
		} else {
			out.Body = truncateRunes(PlainText(body), smsMaxRunes)
		}
	case entities.ChannelPush:
		out.Subject = subject
		if tmpl.PushTemplate != "" {
			text, m := substitute(tmpl.PushTemplate, placeholders)
			missing = append(missing, m...)
			out.Body = truncateRunes(text, pushMaxRunes)
		} else {
			out.Body = truncateRunes(PlainText(body), pushMaxRunes)
		}
	default:
		out.Subject = subject
		out.Body = body
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return RenderedContent{}, &RenderError{TemplateCode: tmpl.Code, Channel: channel, Missing: slices.Compact(missing)}
	}
	return out, nil
}

// RenderAll renders tmpl for each channel type in channels.
func (r *Renderer) RenderAll(tmpl *entities.NotificationTemplate, placeholders map[string]string, channels []entities.ChannelType) (ContentSet, error) {
	set := make(ContentSet, len(channels))
	for _, ch := range channels {
		if _, ok := set[ch]; ok {
			continue
		}
		content, err := r.Render(tmpl, placeholders, ch)
		if err != nil {
			return nil, err
		}
		set[ch] = content
	}
	return set, nil
}

// substitute replaces every token in a single pass. Substituted values are
// never rescanned for tokens.
func substitute(text string, placeholders map[string]string) (string, []string) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		value, ok := placeholders[name]
		if !ok {
			missing = append(missing, name)
			return token
		}
		return value
	})
	return out, missing
}

// Placeholders lists the distinct token names used in text.
func Placeholders(text string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// PlainText converts an HTML body to text. Plain input passes through.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(html2text.HTML2Text(body))
}

// truncateRunes cuts s to at most limit runes including the ellipsis.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + ellipsis
}

// Package email renders notification emails from Liquid templates and
// delivers them through the configured provider.
package email

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/notification-dispatch/internal/notification"
)

// Message is a rendered email ready for delivery.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer compiles and renders the per-type email templates. Parsed
// templates are cached, so repeated sends of the same kind skip the
// parse. Safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the domain filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

// Render produces the subject and bodies for one notification. The
// unsubscribe link is exposed to templates as unsubscribe_link; an
// empty link leaves the variable unbound so footers can test for it.
func (r *Renderer) Render(t notification.Type, data interface{}, unsubscribeLink string) (Message, error) {
	tpl, ok := templates[t]
	if !ok {
		return Message{}, fmt.Errorf("no email template for type %s", t)
	}

	binding, err := bind(data)
	if err != nil {
		return Message{}, err
	}
	binding["notification_type"] = string(t)
	if unsubscribeLink != "" {
		binding["unsubscribe_link"] = unsubscribeLink
	}

	var msg Message
	if msg.Subject, err = r.render(string(t)+":subject", tpl.subject, binding); err != nil {
		return Message{}, err
	}
	if msg.HTML, err = r.render(string(t)+":html", tpl.html, binding); err != nil {
		return Message{}, err
	}
	if msg.Text, err = r.render(string(t)+":text", tpl.text, binding); err != nil {
		return Message{}, err
	}
	msg.Subject = strings.TrimSpace(msg.Subject)
	return msg, nil
}

func (r *Renderer) render(cacheKey, src string, binding map[string]interface{}) (string, error) {
	if cached, ok := r.cache.Load(cacheKey); ok {
		return cached.(*liquid.Template).RenderString(binding)
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", cacheKey, err)
	}
	r.cache.Store(cacheKey, tpl)
	return tpl.RenderString(binding)
}

// bind converts a payload value into template bindings. Structs bind by
// their JSON field names; event lists from batch flushes bind as
// {events, count}.
func bind(data interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode template data: %w", err)
	}

	if len(raw) > 0 && raw[0] == '[' {
		var events []interface{}
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("decode template data: %w", err)
		}
		return map[string]interface{}{"events": events, "count": len(events)}, nil
	}

	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode template data: %w", err)
	}
	shapeBindings(m)
	return m, nil
}

// shapeBindings adapts decoded values the templates cannot consume
// directly. Cost breakdown maps become cost_rows, a slice of
// {agent, credits} sorted by agent name, bound only when non-empty so
// templates can gate the section with a bare truthiness test.
func shapeBindings(m map[string]interface{}) {
	cb, ok := m["cost_breakdown"].(map[string]interface{})
	if !ok || len(cb) == 0 {
		return
	}
	agents := make([]string, 0, len(cb))
	for agent := range cb {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	rows := make([]map[string]interface{}, 0, len(agents))
	for _, agent := range agents {
		rows = append(rows, map[string]interface{}{"agent": agent, "credits": cb[agent]})
	}
	m["cost_rows"] = rows
}

func (r *Renderer) registerFilters() {
	// Fallback value: {{ most_used_agent | default: "n/a" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Dollar amounts: {{ amount | currency }}
	r.engine.RegisterFilter("currency", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("$%.2f", f)
	})

	// Cent-denominated balances: {{ current_balance | dollars }}
	r.engine.RegisterFilter("dollars", func(value interface{}) string {
		cents, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("$%.2f", cents/100)
	})

	// Credit amounts: {{ total_credits_used | credits }}
	r.engine.RegisterFilter("credits", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return strconv.FormatFloat(f, 'f', 2, 64)
	})

	// Thousand separators: {{ total_executions | number_with_delimiter }}
	r.engine.RegisterFilter("number_with_delimiter", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		n := int64(f)

		str := fmt.Sprintf("%d", n)
		if n < 0 {
			str = str[1:]
		}
		var result strings.Builder
		for i, c := range str {
			if i > 0 && (len(str)-i)%3 == 0 {
				result.WriteRune(',')
			}
			result.WriteRune(c)
		}
		if n < 0 {
			return "-" + result.String()
		}
		return result.String()
	})

	// Rates: {{ success_rate | percentage }}
	r.engine.RegisterFilter("percentage", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("%.1f%%", f)
	})

	// Execution times in seconds: {{ execution_time | duration }}
	r.engine.RegisterFilter("duration", func(value interface{}) string {
		secs, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		switch {
		case secs < 60:
			return fmt.Sprintf("%.1fs", secs)
		case secs < 3600:
			whole := int(secs)
			return fmt.Sprintf("%dm %02ds", whole/60, whole%60)
		default:
			whole := int(secs)
			return fmt.Sprintf("%dh %02dm", whole/3600, (whole%3600)/60)
		}
	})

	// Timestamps land as RFC3339 strings after the JSON round trip:
	// {{ start_date | short_date }}
	r.engine.RegisterFilter("short_date", func(t interface{}) string {
		switch v := t.(type) {
		case time.Time:
			return v.Format("January 2, 2006")
		case *time.Time:
			if v == nil {
				return ""
			}
			return v.Format("January 2, 2006")
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return v
			}
			return parsed.Format("January 2, 2006")
		default:
			return fmt.Sprintf("%v", t)
		}
	})

	// Privacy masking for emails shown in admin digests:
	// {{ user_email | mask_email }}
	r.engine.RegisterFilter("mask_email", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) != 2 {
			return email
		}
		local := parts[0]
		if len(local) <= 2 {
			return local + "***@" + parts[1]
		}
		return local[:2] + "***@" + parts[1]
	})
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

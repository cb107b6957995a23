package garmin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Logical resource names known to the catalog
const (
	ResourceDevices          = "devices"
	ResourceDeviceSettings   = "device_settings"
	ResourceUserSummary      = "user_summary"
	ResourceBodyComposition  = "body_composition"
	ResourceMaxMetrics       = "max_metrics"
	ResourceHydration        = "hydration"
	ResourcePersonalRecords  = "personal_records"
	ResourceSleep            = "sleep"
	ResourceRestingHeartRate = "resting_heart_rate"
)

// Placeholder keys used by the templates
const (
	ParamDisplayName = "displayName"
	ParamDeviceID    = "deviceId"
	ParamDate        = "date"
)

// Params supplies values for template placeholders
type Params map[string]string

type endpoint struct {
	path  string
	query map[string]string
	guard func(body []byte) bool
}

var endpoints = map[string]endpoint{
	ResourceDevices: {
		path: "device-service/deviceregistration/devices",
	},
	ResourceDeviceSettings: {
		path: "device-service/deviceservice/device-info/settings/{deviceId}",
	},
	ResourceUserSummary: {
		path:  "usersummary-service/usersummary/daily/{displayName}",
		query: map[string]string{"calendarDate": "{date}"},
		guard: privacyProtected,
	},
	ResourceBodyComposition: {
		path:  "weight-service/weight/daterangesnapshot",
		query: map[string]string{"startDate": "{date}", "endDate": "{date}"},
	},
	ResourceMaxMetrics: {
		path: "metrics-service/metrics/maxmet/latest/{date}",
	},
	ResourceHydration: {
		path: "usersummary-service/usersummary/hydration/daily/{date}",
	},
	ResourcePersonalRecords: {
		path: "personalrecord-service/personalrecord/prs/{displayName}",
	},
	ResourceSleep: {
		path:  "wellness-service/wellness/dailySleepData/{displayName}",
		query: map[string]string{"date": "{date}", "nonSleepBufferMinutes": "60"},
	},
	ResourceRestingHeartRate: {
		path:  "userstats-service/wellness/daily/{displayName}",
		query: map[string]string{"fromDate": "{date}", "untilDate": "{date}", "metricId": "60"},
	},
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Catalog resolves logical resource names into request descriptors
type Catalog struct {
	baseURL string
}

// NewCatalog creates a catalog rooted at baseURL, the API proxy prefix
func NewCatalog(baseURL string) *Catalog {
	return &Catalog{baseURL: strings.TrimRight(baseURL, "/")}
}

// Names returns every resource name in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Needs reports whether resolving name requires the given parameter
func (c *Catalog) Needs(name, param string) bool {
	ep, ok := endpoints[name]
	if !ok {
		return false
	}
	token := "{" + param + "}"
	if strings.Contains(ep.path, token) {
		return true
	}
	for _, v := range ep.query {
		if strings.Contains(v, token) {
			return true
		}
	}
	return false
}

// Resolve builds the descriptor for name
func (c *Catalog) Resolve(name string, params Params) (RequestDescriptor, error) {
	ep, ok := endpoints[name]
	if !ok {
		return RequestDescriptor{}, fmt.Errorf("unknown resource: %s", name)
	}

	path, err := expand(ep.path, params, url.PathEscape)
	if err != nil {
		return RequestDescriptor{}, fmt.Errorf("resource %s: %w", name, err)
	}

	var query url.Values
	if len(ep.query) > 0 {
		query = url.Values{}
		for k, tmpl := range ep.query {
			v, err := expand(tmpl, params, nil)
			if err != nil {
				return RequestDescriptor{}, fmt.Errorf("resource %s: %w", name, err)
			}
			query.Set(k, v)
		}
	}

	return RequestDescriptor{
		Name:   name,
		Method: http.MethodGet,
		URL:    c.baseURL + "/" + path,
		Query:  query,
		Guard:  ep.guard,
	}, nil
}

func expand(tmpl string, params Params, escape func(string) string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := params[key]
		if !ok || v == "" {
			missing = append(missing, key)
			return m
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing parameter %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// privacyProtected reports whether a user summary body is flagged as hidden
// from the current session.
func privacyProtected(body []byte) bool {
	var guard struct {
		PrivacyProtected bool `json:"privacyProtected"`
	}
	return json.Unmarshal(body, &guard) == nil && guard.PrivacyProtected
}

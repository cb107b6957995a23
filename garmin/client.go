package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// dateLayout is the calendar date format the API expects
const dateLayout = "2006-01-02"

// Object is a decoded JSON object. Numbers are kept as json.Number.
type Object = map[string]any

// Client is a Garmin Connect API client for a single account.
type Client struct {
	session *Session
	fetcher *Fetcher
	catalog *Catalog
	logger  zerolog.Logger
}

// NewClient creates a new Garmin Connect client. It does not log in; call
// Login or configure WithAutoLogin.
func NewClient(logger zerolog.Logger, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := strings.TrimRight(o.baseURL, "/")

	exchange := o.exchange
	if exchange == nil {
		sso := NewSSOExchange(baseURL, o.ssoURL, o.userAgent, o.timeout, o.ssoRetries, logger)
		if o.httpClient != nil {
			sso.transport = o.httpClient.Transport
		}
		exchange = sso
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	session := NewSession(exchange, logger)
	session.metrics = o.metrics
	fetcher := NewFetcher(session, httpClient, logger)
	fetcher.metrics = o.metrics
	fetcher.userAgent = o.userAgent
	if o.autoLogin {
		fetcher.autoLogin = true
		fetcher.email = o.email
		fetcher.password = o.password
	}

	return &Client{
		session: session,
		fetcher: fetcher,
		catalog: NewCatalog(baseURL + "/proxy"),
		logger:  logger,
	}
}

// Login authenticates with the given credentials and returns the account
func (c *Client) Login(ctx context.Context, email, password string) (AccountID, error) {
	return c.session.Authenticate(ctx, email, password)
}

// Account returns the logged in account
func (c *Client) Account() (AccountID, error) {
	return c.session.Account()
}

// Resources lists the logical resource names Fetch accepts
func (c *Client) Resources() []string {
	return c.catalog.Names()
}

// Fetch retrieves a resource by logical name and decodes it into out.
// The account display name is filled in automatically.
func (c *Client) Fetch(ctx context.Context, name string, params Params, out any) error {
	if err := c.fetcher.ensureSession(ctx, name); err != nil {
		return err
	}

	resolved := Params{}
	for k, v := range params {
		resolved[k] = v
	}
	if c.catalog.Needs(name, ParamDisplayName) {
		account, err := c.session.Account()
		if err != nil {
			return withOp(err, name)
		}
		resolved[ParamDisplayName] = account.DisplayName
	}

	d, err := c.catalog.Resolve(name, resolved)
	if err != nil {
		return newError(KindConnectionFailed, name, 0, err)
	}

	c.logger.Debug().Str("resource", name).Msg("Requesting resource")

	var raw json.RawMessage
	if err := c.fetcher.Fetch(ctx, d, &raw); err != nil {
		return err
	}
	return decodeNumbers(name, raw, out)
}

// decodeNumbers decodes raw into out keeping numbers as json.Number
func decodeNumbers(op string, raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return newError(KindConnectionFailed, op, http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) object(ctx context.Context, name string, params Params) (Object, error) {
	var out Object
	if err := c.Fetch(ctx, name, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, name string, params Params) ([]Object, error) {
	var out []Object
	if err := c.Fetch(ctx, name, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func dateParams(date time.Time) Params {
	return Params{ParamDate: date.Format(dateLayout)}
}

// GetDevices returns the devices registered to the account
func (c *Client) GetDevices(ctx context.Context) ([]Object, error) {
	devices, err := c.list(ctx, ResourceDevices, nil)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Msgf("Retrieved %d devices from Garmin Connect", len(devices))
	return devices, nil
}

// GetDeviceSettings returns the settings of one device
func (c *Client) GetDeviceSettings(ctx context.Context, deviceID string) (Object, error) {
	return c.object(ctx, ResourceDeviceSettings, Params{ParamDeviceID: deviceID})
}

// GetUserSummary returns the daily activity summary for date
func (c *Client) GetUserSummary(ctx context.Context, date time.Time) (Object, error) {
	return c.object(ctx, ResourceUserSummary, dateParams(date))
}

// GetBodyComposition returns body composition for date
func (c *Client) GetBodyComposition(ctx context.Context, date time.Time) (Object, error) {
	return c.object(ctx, ResourceBodyComposition, dateParams(date))
}

// GetMaxMetrics returns the latest VO2 max metrics as of date
func (c *Client) GetMaxMetrics(ctx context.Context, date time.Time) ([]Object, error) {
	return c.list(ctx, ResourceMaxMetrics, dateParams(date))
}

// GetHydration returns hydration data for date
func (c *Client) GetHydration(ctx context.Context, date time.Time) (Object, error) {
	return c.object(ctx, ResourceHydration, dateParams(date))
}

// GetPersonalRecords returns the account's personal records
func (c *Client) GetPersonalRecords(ctx context.Context) ([]Object, error) {
	return c.list(ctx, ResourcePersonalRecords, nil)
}

// GetSleep returns sleep data for the night ending on date
func (c *Client) GetSleep(ctx context.Context, date time.Time) (Object, error) {
	return c.object(ctx, ResourceSleep, dateParams(date))
}

// GetRestingHeartRate returns resting heart rate for date
func (c *Client) GetRestingHeartRate(ctx context.Context, date time.Time) (Object, error) {
	return c.object(ctx, ResourceRestingHeartRate, dateParams(date))
}

// GetDeviceAlarms combines the alarms of every device. The first failed
// settings fetch aborts the aggregate and no further devices are queried.
func (c *Client) GetDeviceAlarms(ctx context.Context) ([]Object, error) {
	c.logger.Debug().Msg("Requesting device alarms")

	devices, err := c.GetDevices(ctx)
	if err != nil {
		return nil, err
	}

	alarms := make([]Object, 0)
	for _, device := range devices {
		id, err := DeviceID(device)
		if err != nil {
			return nil, newError(KindConnectionFailed, ResourceDevices, 0, err)
		}

		settings, err := c.GetDeviceSettings(ctx, id)
		if err != nil {
			return nil, err
		}

		list, _ := settings["alarms"].([]any)
		for _, item := range list {
			if alarm, ok := item.(Object); ok {
				alarms = append(alarms, alarm)
			}
		}
	}

	return alarms, nil
}

// DeviceID returns the deviceId field of a device object as a string
func DeviceID(device Object) (string, error) {
	switch v := device["deviceId"].(type) {
	case json.Number:
		return v.String(), nil
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("device has no deviceId")
}

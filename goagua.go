// Package goagua provides remote control and telemetry for pellet heating
// devices connected through Micronova's IOT Agua cloud platform.
package goagua

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL = "https://micronova.agua-iot.com"

	pathAppSignup      = "/appSignup"
	pathLogin          = "/userLogin"
	pathRefreshToken   = "/refreshToken"
	pathDeviceList     = "/deviceList"
	pathDeviceInfo     = "/deviceGetInfo"
	pathRegistersMap   = "/deviceGetRegistersMap"
	pathBufferReading  = "/deviceGetBufferReading"
	pathJobStatus      = "/deviceJobStatus/"
	pathRequestWriting = "/deviceRequestWriting"

	customerCode = "635987"
	brandID      = "1"

	defaultJobPollInterval = time.Second
	defaultJobPollRetries  = 10
)

// Client provides access to the heating devices registered on one IOT Agua
// account.
type Client struct {
	baseURL    string
	email      string
	password   string
	appID      string
	httpClient *http.Client
	logger     Logger

	jobPollInterval time.Duration
	jobPollRetries  int

	// Session state. The token and its expiry are shared between calls;
	// refresh-then-retry-once is the only retry policy.
	sessionMu    sync.Mutex
	token        string
	refreshToken string
	tokenExpires time.Time

	devices []*Device
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the platform URL, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger (silent by default).
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJobPollInterval sets the delay between job status polls.
func WithJobPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.jobPollInterval = interval
	}
}

// WithJobPollRetries sets how many times a job status poll is retried
// before the operation fails with a TimeoutError.
func WithJobPollRetries(retries int) Option {
	return func(c *Client) {
		c.jobPollRetries = retries
	}
}

// NewClient creates a client for one account. appID is a stable identifier
// for this client installation; the server tracks installations by it, so
// callers should generate it once and reuse it across restarts.
func NewClient(email, password, appID string, options ...Option) *Client {
	c := &Client{
		baseURL:  defaultBaseURL,
		email:    email,
		password: password,
		appID:    appID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// The vendor endpoints answer directly; a redirect would mean
			// something is interposed between us and the platform.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:          NoOpLogger{},
		jobPollInterval: defaultJobPollInterval,
		jobPollRetries:  defaultJobPollRetries,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect registers the app id, authenticates, and loads the account's
// device list. Devices carry no data until their first Update.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.registerApp(ctx); err != nil {
		return err
	}
	if err := c.login(ctx); err != nil {
		return err
	}
	return c.fetchDevices(ctx)
}

// Devices returns the devices discovered by Connect.
func (c *Client) Devices() []*Device {
	return append([]*Device(nil), c.devices...)
}

// do performs one HTTP round trip with the vendor's fixed headers. The
// header keys are set verbatim; the platform expects them lowercase.
func (c *Client) do(ctx context.Context, method, path string, payload any, extra map[string]string) (*http.Response, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, NewOperationError("encoding request payload", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("building request for %s", url), err)
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "file://")
	req.Header["id_brand"] = []string{brandID}
	req.Header["customer_code"] = []string{customerCode}
	for key, value := range extra {
		req.Header[key] = []string{value}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed", "url", url, "error", err)
		return nil, NewConnectionError(fmt.Sprintf("connection to %s not possible", url), err)
	}
	return resp, nil
}

// registerApp registers this client installation with the platform.
func (c *Client) registerApp(ctx context.Context) error {
	payload := map[string]any{
		"phone_type":               "Android",
		"phone_id":                 c.appID,
		"phone_version":            "1.0",
		"language":                 "en",
		"id_app":                   c.appID,
		"push_notification_token":  c.appID,
		"push_notification_active": false,
	}

	resp, err := c.do(ctx, http.MethodPost, pathAppSignup, payload, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return NewUnauthorizedError("failed to register app id", nil)
	}
	c.logger.Debug("app id registered", "app_id", c.appID)
	return nil
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// login authenticates with email and password.
func (c *Client) login(ctx context.Context) error {
	payload := map[string]string{
		"email":    c.email,
		"password": c.password,
	}
	extra := map[string]string{
		"local":         "true",
		"Authorization": c.appID,
	}

	resp, err := c.do(ctx, http.MethodPost, pathLogin, payload, extra)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewUnauthorizedError("login failed, check credentials", nil)
	}

	var res loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return NewOperationError("decoding login response", err)
	}
	c.setSession(res.Token, res.RefreshToken)
	c.logger.Info("logged in", "email", c.email)
	return nil
}

// refreshSession exchanges the refresh token for a new auth token, falling
// back to a full login when the platform rejects the refresh.
func (c *Client) refreshSession(ctx context.Context) error {
	c.sessionMu.Lock()
	refresh := c.refreshToken
	c.sessionMu.Unlock()

	payload := map[string]string{"refresh_token": refresh}

	resp, err := c.do(ctx, http.MethodPost, pathRefreshToken, payload, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		c.logger.Warn("token refresh rejected, forcing new login")
		return c.login(ctx)
	}

	var res loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return NewOperationError("decoding refresh response", err)
	}
	c.sessionMu.Lock()
	c.token = res.Token
	c.tokenExpires = tokenExpiry(res.Token, c.logger)
	c.sessionMu.Unlock()
	c.logger.Debug("auth token refreshed")
	return nil
}

func (c *Client) setSession(token, refreshToken string) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.token = token
	c.refreshToken = refreshToken
	c.tokenExpires = tokenExpiry(token, c.logger)
}

func (c *Client) tokenExpired() bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return !time.Now().Before(c.tokenExpires)
}

func (c *Client) currentToken() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.token
}

// tokenExpiry reads the exp claim without verifying the signature; the
// token is opaque to this client beyond its lifetime. A token whose expiry
// cannot be read is treated as already expired.
func tokenExpiry(token string, logger Logger) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		logger.Warn("auth token is not a parsable JWT", "error", err)
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		logger.Warn("auth token carries no exp claim")
		return time.Time{}
	}
	return exp.Time
}

// apiCall performs an authenticated request. An expired token is refreshed
// up front; a 401 answer triggers exactly one refresh-and-retry, and a
// second consecutive 401 surfaces as UnauthorizedError.
func (c *Client) apiCall(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	if c.tokenExpired() {
		if err := c.refreshSession(ctx); err != nil {
			return nil, err
		}
	}

	raw, unauthorized, err := c.authedCall(ctx, method, path, payload)
	if err != nil || !unauthorized {
		return raw, err
	}

	c.logger.Debug("request rejected with 401, refreshing token once", "path", path)
	if err := c.refreshSession(ctx); err != nil {
		return nil, err
	}
	raw, unauthorized, err = c.authedCall(ctx, method, path, payload)
	if unauthorized {
		return nil, NewUnauthorizedError(fmt.Sprintf("request to %s rejected after token refresh", path), nil)
	}
	return raw, err
}

func (c *Client) authedCall(ctx context.Context, method, path string, payload any) (json.RawMessage, bool, error) {
	extra := map[string]string{
		"local":         "false",
		"Authorization": c.currentToken(),
	}

	resp, err := c.do(ctx, method, path, payload, extra)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, NewOperationError(
			fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, NewConnectionError("reading response body", err)
	}
	return json.RawMessage(raw), false, nil
}

type deviceListResponse struct {
	Device []deviceDescriptor `json:"device"`
}

type deviceDescriptor struct {
	ID            json.Number `json:"id"`
	IDDevice      string      `json:"id_device"`
	IDProduct     string      `json:"id_product"`
	ProductSerial string      `json:"product_serial"`
	Name          string      `json:"name"`
	IsOnline      bool        `json:"is_online"`
	NameProduct   string      `json:"name_product"`
}

type deviceInfoResponse struct {
	DeviceInfo []struct {
		IDRegistersMap int `json:"id_registers_map"`
	} `json:"device_info"`
}

// fetchDevices loads the account's device list and, per device, the id of
// the registers map the device's product uses.
func (c *Client) fetchDevices(ctx context.Context) error {
	raw, err := c.apiCall(ctx, http.MethodPost, pathDeviceList, map[string]any{})
	if err != nil {
		return err
	}
	var list deviceListResponse
	if err := json.Unmarshal(raw, &list); err != nil {
		return NewOperationError("decoding device list", err)
	}

	devices := make([]*Device, 0, len(list.Device))
	for _, desc := range list.Device {
		info, err := c.apiCall(ctx, http.MethodPost, pathDeviceInfo, map[string]string{
			"id_device":  desc.IDDevice,
			"id_product": desc.IDProduct,
		})
		if err != nil {
			return err
		}
		var di deviceInfoResponse
		if err := json.Unmarshal(info, &di); err != nil {
			return NewOperationError(fmt.Sprintf("decoding device info for %s", desc.IDDevice), err)
		}
		if len(di.DeviceInfo) == 0 {
			return NewOperationError(fmt.Sprintf("empty device info for %s", desc.IDDevice), nil)
		}
		devices = append(devices, newDevice(c, desc, di.DeviceInfo[0].IDRegistersMap))
		c.logger.Info("discovered device",
			"name", desc.Name,
			"product", desc.NameProduct,
			"serial", desc.ProductSerial,
			"online", desc.IsOnline)
	}
	c.devices = devices
	return nil
}

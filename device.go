package goagua

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// statusDescriptions translates the vendor's numeric status codes into the
// labels the mobile app shows.
var statusDescriptions = map[int]string{
	0: "OFF",
	1: "START",
	2: "LOAD PELLETS",
	3: "FLAME LIGHT",
	4: "ON",
	5: "CLEANING FIRE-POT",
	6: "CLEANING FINAL",
	7: "ECO-STOP",
	9: "NO PELLETS",
}

// Register names used by the named accessors. The rest of the registers
// map is carried opaquely; only these keys have application meaning here.
const (
	regAirTempGet          = "temp_air_get"
	regAirTempSet          = "temp_air_set"
	regGasTempGet          = "temp_gas_flue_get"
	regRealPowerGet        = "real_power_get"
	regPowerSet            = "power_set"
	regStatusGet           = "status_get"
	regAlarmsGet           = "alarms_get"
	regStatusManaged       = "status_managed_get"
	regStatusManagedEnable = "status_managed_on_enable"
)

const jobStatusCompleted = "completed"

// Device represents one pellet heating appliance of the account. Its
// registers map and raw telemetry are refreshed together by Update and
// published as one immutable snapshot.
type Device struct {
	client *Client

	id             string
	idDevice       string
	idProduct      string
	productSerial  string
	name           string
	productName    string
	isOnline       bool
	registersMapID int

	mu    sync.RWMutex
	state *snapshot
}

func newDevice(client *Client, desc deviceDescriptor, registersMapID int) *Device {
	return &Device{
		client:         client,
		id:             desc.ID.String(),
		idDevice:       desc.IDDevice,
		idProduct:      desc.IDProduct,
		productSerial:  desc.ProductSerial,
		name:           desc.Name,
		productName:    desc.NameProduct,
		isOnline:       desc.IsOnline,
		registersMapID: registersMapID,
	}
}

func (d *Device) ID() string            { return d.id }
func (d *Device) IDDevice() string      { return d.idDevice }
func (d *Device) IDProduct() string     { return d.idProduct }
func (d *Device) ProductSerial() string { return d.productSerial }
func (d *Device) Name() string          { return d.name }
func (d *Device) ProductName() string   { return d.productName }
func (d *Device) IsOnline() bool        { return d.isOnline }
func (d *Device) RegistersMapID() int   { return d.registersMapID }

// Update refreshes the registers map and the raw telemetry buffer as one
// unit. Both fetches go into a private working copy that is only published
// once both succeed, so a concurrent reader observes either the fully-old
// or the fully-new pair, never a mix.
func (d *Device) Update(ctx context.Context) error {
	registers, err := d.fetchRegisterMap(ctx)
	if err != nil {
		return err
	}
	items, values, err := d.fetchRawValues(ctx)
	if err != nil {
		return err
	}
	state, err := newSnapshot(registers, items, values)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.state = state
	d.mu.Unlock()

	d.client.logger.Debug("device state refreshed",
		"device", d.name, "registers", len(registers), "values", len(values))
	return nil
}

func (d *Device) snapshot() (*snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state == nil {
		return nil, NewOperationError(fmt.Sprintf("device %s has no data yet, call Update first", d.name), nil)
	}
	return d.state, nil
}

func (d *Device) fetchRegisterMap(ctx context.Context) (RegisterMap, error) {
	payload := map[string]any{
		"id_device":   d.idDevice,
		"id_product":  d.idProduct,
		"last_update": "2018-06-03T08:59:54.043",
	}
	raw, err := d.client.apiCall(ctx, http.MethodPost, pathRegistersMap, payload)
	if err != nil {
		return nil, err
	}
	var catalog registersMapsResponse
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, NewOperationError("decoding registers map catalog", err)
	}
	return buildRegisterMap(&catalog, d.registersMapID)
}

func (d *Device) fetchRawValues(ctx context.Context) ([]int, []float64, error) {
	payload := map[string]any{
		"id_device":  d.idDevice,
		"id_product": d.idProduct,
		"BufferId":   1,
	}
	raw, err := d.client.apiCall(ctx, http.MethodPost, pathBufferReading, payload)
	if err != nil {
		return nil, nil, err
	}
	answer, err := d.pollJob(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	if answer.Data == nil || len(answer.Data.Items) == 0 {
		return nil, nil, NewOperationError("telemetry job answer carries no items", nil)
	}
	return answer.Data.Items, answer.Data.Values, nil
}

type jobRequestResponse struct {
	IDRequest string `json:"idRequest"`
}

type jobStatusResponse struct {
	Status string         `json:"jobAnswerStatus"`
	Data   *jobAnswerData `json:"jobAnswerData"`
}

type jobAnswerData struct {
	Items  []int           `json:"Items"`
	Values []float64       `json:"Values"`
	Cmd    json.RawMessage `json:"Cmd"`
}

// pollJob extracts the job id from a submission response and polls its
// status until completion or until the configured retry bound is
// exhausted. Connection and authorization failures abort immediately; an
// incomplete or malformed status answer is retried.
func (d *Device) pollJob(ctx context.Context, submission json.RawMessage) (*jobStatusResponse, error) {
	var job jobRequestResponse
	if err := json.Unmarshal(submission, &job); err != nil || job.IDRequest == "" {
		return nil, NewOperationError("job submission response carries no request id", err)
	}
	path := pathJobStatus + job.IDRequest

	var lastErr error
	for attempt := 0; attempt <= d.client.jobPollRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewConnectionError("job polling cancelled", ctx.Err())
			case <-time.After(d.client.jobPollInterval):
			}
		}

		raw, err := d.client.apiCall(ctx, http.MethodGet, path, nil)
		if err != nil {
			var connErr *ConnectionError
			var authErr *UnauthorizedError
			if errors.As(err, &connErr) || errors.As(err, &authErr) {
				return nil, err
			}
			lastErr = err
			continue
		}

		var status jobStatusResponse
		if err := json.Unmarshal(raw, &status); err != nil {
			lastErr = NewOperationError("decoding job status", err)
			continue
		}
		if status.Status == jobStatusCompleted {
			return &status, nil
		}
		lastErr = nil
	}
	return nil, NewTimeoutError(
		fmt.Sprintf("job %s not completed after %d attempts", job.IDRequest, d.client.jobPollRetries+1), lastErr)
}

func (d *Device) decodeFloat(key string) (float64, error) {
	state, err := d.snapshot()
	if err != nil {
		return 0, err
	}
	return state.decode(key)
}

func (d *Device) decodeInt(key string) (int, error) {
	v, err := d.decodeFloat(key)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// AirTemperature returns the measured room air temperature.
func (d *Device) AirTemperature() (float64, error) {
	return d.decodeFloat(regAirTempGet)
}

// TargetTemperature returns the configured target air temperature.
func (d *Device) TargetTemperature() (float64, error) {
	return d.decodeFloat(regAirTempSet)
}

// GasTemperature returns the flue gas temperature.
func (d *Device) GasTemperature() (float64, error) {
	return d.decodeFloat(regGasTempGet)
}

// RealPower returns the power level the device is currently running at.
func (d *Device) RealPower() (int, error) {
	return d.decodeInt(regRealPowerGet)
}

// PowerLevel returns the configured power/fan level.
func (d *Device) PowerLevel() (int, error) {
	return d.decodeInt(regPowerSet)
}

// StatusCode returns the vendor's numeric operating status.
func (d *Device) StatusCode() (int, error) {
	return d.decodeInt(regStatusGet)
}

// Status returns the operating status as a human readable label.
func (d *Device) Status() (string, error) {
	code, err := d.StatusCode()
	if err != nil {
		return "", err
	}
	if text, ok := statusDescriptions[code]; ok {
		return text, nil
	}
	return fmt.Sprintf("UNKNOWN (%d)", code), nil
}

// AlarmCode returns the current alarm code, zero when no alarm is active.
func (d *Device) AlarmCode() (int, error) {
	return d.decodeInt(regAlarmsGet)
}

// StatusManaged returns the raw value of the status managed register.
func (d *Device) StatusManaged() (int, error) {
	return d.decodeInt(regStatusManaged)
}

// StatusManagedEnabled reports whether remote on/off control is enabled.
func (d *Device) StatusManagedEnabled() (bool, error) {
	v, err := d.decodeInt(regStatusManagedEnable)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// MinTargetTemperature returns the lower write bound of the target
// temperature register.
func (d *Device) MinTargetTemperature() (float64, error) {
	state, err := d.snapshot()
	if err != nil {
		return 0, err
	}
	entry, err := state.entry(regAirTempSet)
	if err != nil {
		return 0, err
	}
	return entry.SetMin, nil
}

// MaxTargetTemperature returns the upper write bound of the target
// temperature register.
func (d *Device) MaxTargetTemperature() (float64, error) {
	state, err := d.snapshot()
	if err != nil {
		return 0, err
	}
	entry, err := state.entry(regAirTempSet)
	if err != nil {
		return 0, err
	}
	return entry.SetMax, nil
}

// SetTargetTemperature encodes and writes a new target air temperature.
// Values outside the register's bounds are rejected before anything is
// sent to the platform.
func (d *Device) SetTargetTemperature(ctx context.Context, value float64) error {
	if err := d.writeRegister(ctx, regAirTempSet, value); err != nil {
		return wrapWriteError("set temperature", err)
	}
	return nil
}

// SetPowerLevel encodes and writes a new power/fan level.
func (d *Device) SetPowerLevel(ctx context.Context, level int) error {
	if err := d.writeRegister(ctx, regPowerSet, float64(level)); err != nil {
		return wrapWriteError("set power", err)
	}
	return nil
}

// TurnOn switches the device on through the status managed register's
// enumerated ON value.
func (d *Device) TurnOn(ctx context.Context) error {
	return d.switchPower(ctx, true)
}

// TurnOff switches the device off through the status managed register's
// enumerated OFF value.
func (d *Device) TurnOff(ctx context.Context) error {
	return d.switchPower(ctx, false)
}

func (d *Device) switchPower(ctx context.Context, on bool) error {
	op := "turn off device"
	if on {
		op = "turn on device"
	}

	state, err := d.snapshot()
	if err != nil {
		return wrapWriteError(op, err)
	}
	entry, err := state.entry(regStatusManaged)
	if err != nil {
		return wrapWriteError(op, err)
	}

	value := entry.OffValue
	if on {
		value = entry.OnValue
	}
	if value == nil {
		return NewConfigurationError(
			fmt.Sprintf("register %s has no ON/OFF encodings", regStatusManaged), nil)
	}

	if err := d.requestWriting(ctx, entry, []int{*value}); err != nil {
		return wrapWriteError(op, err)
	}
	return nil
}

func (d *Device) writeRegister(ctx context.Context, key string, value float64) error {
	state, err := d.snapshot()
	if err != nil {
		return err
	}
	entry, err := state.entry(key)
	if err != nil {
		return err
	}
	if value < entry.SetMin || value > entry.SetMax {
		return NewRangeError(key, value, entry.SetMin, entry.SetMax)
	}
	wire, err := encodeValue(entry, value)
	if err != nil {
		return err
	}
	return d.requestWriting(ctx, entry, []int{wire})
}

// requestWriting submits a write job for one register and waits for the
// server side job to complete.
func (d *Device) requestWriting(ctx context.Context, entry *RegisterEntry, values []int) error {
	payload := map[string]any{
		"id_device":  d.idDevice,
		"id_product": d.idProduct,
		"Protocol":   "RWMSmaster",
		"BitData":    []int{8},
		"Endianess":  []string{"L"},
		"Items":      []int{entry.Offset},
		"Masks":      []int{entry.Mask},
		"Values":     values,
	}

	raw, err := d.client.apiCall(ctx, http.MethodPost, pathRequestWriting, payload)
	if err != nil {
		return err
	}
	answer, err := d.pollJob(ctx, raw)
	if err != nil {
		return err
	}
	if answer.Data == nil || len(answer.Data.Cmd) == 0 {
		return NewOperationError("write job completed without command confirmation", nil)
	}
	d.client.logger.Debug("register written",
		"device", d.name, "register", entry.Key, "offset", entry.Offset, "values", values)
	return nil
}

// wrapWriteError keeps validation and configuration conditions intact and
// wraps everything else into an OperationError naming the property that
// failed to be set.
func wrapWriteError(op string, err error) error {
	var rangeErr *RangeError
	var confErr *ConfigurationError
	if errors.As(err, &rangeErr) || errors.As(err, &confErr) {
		return err
	}
	return NewOperationError("failed to "+op, err)
}

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics exports per-device telemetry and poll counters on a private
// registry, so the bridge does not leak the default registry's collectors.
type metrics struct {
	registry *prometheus.Registry

	airTemperature    *prometheus.GaugeVec
	targetTemperature *prometheus.GaugeVec
	gasTemperature    *prometheus.GaugeVec
	powerLevel        *prometheus.GaugeVec
	statusCode        *prometheus.GaugeVec
	alarmCode         *prometheus.GaugeVec

	updates      prometheus.Counter
	updateErrors prometheus.Counter
}

func newMetrics() *metrics {
	deviceGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"device"})
	}

	m := &metrics{
		registry:          prometheus.NewRegistry(),
		airTemperature:    deviceGauge("agua_air_temperature_celsius", "Measured room air temperature."),
		targetTemperature: deviceGauge("agua_target_temperature_celsius", "Configured target air temperature."),
		gasTemperature:    deviceGauge("agua_gas_temperature_celsius", "Flue gas temperature."),
		powerLevel:        deviceGauge("agua_power_level", "Configured power level."),
		statusCode:        deviceGauge("agua_status_code", "Vendor numeric operating status."),
		alarmCode:         deviceGauge("agua_alarm_code", "Current alarm code, zero when clear."),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agua_updates_total",
			Help: "Device update attempts.",
		}),
		updateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agua_update_errors_total",
			Help: "Device update attempts that failed.",
		}),
	}
	m.registry.MustRegister(
		m.airTemperature, m.targetTemperature, m.gasTemperature,
		m.powerLevel, m.statusCode, m.alarmCode,
		m.updates, m.updateErrors,
	)
	return m
}

// observe records the heater's current readings. Registers the device does
// not expose are skipped.
func (m *metrics) observe(h Heater) {
	device := h.Name()
	if v, err := h.AirTemperature(); err == nil {
		m.airTemperature.WithLabelValues(device).Set(v)
	}
	if v, err := h.TargetTemperature(); err == nil {
		m.targetTemperature.WithLabelValues(device).Set(v)
	}
	if v, err := h.GasTemperature(); err == nil {
		m.gasTemperature.WithLabelValues(device).Set(v)
	}
	if v, err := h.PowerLevel(); err == nil {
		m.powerLevel.WithLabelValues(device).Set(float64(v))
	}
	if v, err := h.StatusCode(); err == nil {
		m.statusCode.WithLabelValues(device).Set(float64(v))
	}
	if v, err := h.AlarmCode(); err == nil {
		m.alarmCode.WithLabelValues(device).Set(float64(v))
	}
}

func (m *metrics) serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

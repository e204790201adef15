// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/cursair/internal/motion"
)

// Sensor sources accepted by SENSOR_SOURCE.
const (
	SourceMock    = "mock"
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
)

// Config holds all application configuration values.
type Config struct {
	// Motion tuning. PRESET selects the base values, every other key overrides one field.
	Preset string
	Motion motion.Settings

	// Streaming
	TickIntervalMS int

	// Transport
	ConnectTimeoutMS int
	ReceivePollMS    int

	// Sensors
	SensorSource     string
	SensorIntervalMS int
	IMUSPIDevice     string
	IMUCSPin         string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange    byte
	IMUGravityAlpha float64
	SerialPort      string
	SerialBaudRate  uint

	// MQTT telemetry (empty broker disables publishing)
	MQTTBroker          string
	MQTTClientIDPointer string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	TopicMovement       string
	TopicState          string

	// Web monitor
	WebServerPort int

	// Console
	ConsoleLogInterval int // milliseconds

	// Host simulator
	HostSimListen   string
	HostSimPassword string

	// Calibration capture
	CalibrationSeconds int
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Preset:              motion.PresetSnapToZero,
		Motion:              motion.SnapToZeroSettings(),
		TickIntervalMS:      16,
		ConnectTimeoutMS:    5000,
		ReceivePollMS:       100,
		SensorSource:        SourceMock,
		SensorIntervalMS:    5,
		IMUSPIDevice:        "/dev/spidev0.0",
		IMUCSPin:            "GPIO8",
		IMUGravityAlpha:     0.2,
		SerialPort:          "/dev/ttyUSB0",
		SerialBaudRate:      115200,
		MQTTClientIDPointer: "cursair-pointer",
		MQTTClientIDConsole: "cursair-console",
		MQTTClientIDWeb:     "cursair-web",
		TopicMovement:       "cursair/movement",
		TopicState:          "cursair/state",
		WebServerPort:       8080,
		ConsoleLogInterval:  500,
		HostSimListen:       ":9999",
		CalibrationSeconds:  5,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

type entry struct {
	line  int
	key   string
	value string
}

// Parse reads KEY=VALUE lines. PRESET is applied before any other key so that
// explicit keys override the preset wherever they appear in the file.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	var entries []entry
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		e := entry{line: lineNum, key: strings.TrimSpace(parts[0]), value: strings.TrimSpace(parts[1])}
		if e.key == "PRESET" {
			if err := cfg.setPreset(e.value); err != nil {
				return nil, fmt.Errorf("config line %d: %w", e.line, err)
			}
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	for _, e := range entries {
		if err := cfg.setValue(e.key, e.value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", e.line, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setPreset(name string) error {
	s, err := motion.PresetByName(name)
	if err != nil {
		return err
	}
	c.Preset = name
	c.Motion = s
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	m := &c.Motion

	switch key {
	// Horizontal axis
	case "YAW_FILTER":
		m.Yaw.Filter, err = motion.ParseFilterKind(value)
	case "YAW_KALMAN_R":
		m.Yaw.KalmanR, err = parsePositive(key, value)
	case "YAW_KALMAN_Q":
		m.Yaw.KalmanQ, err = parsePositive(key, value)
	case "YAW_LOWPASS_ALPHA":
		m.Yaw.Alpha, err = parseUnit(key, value)
	case "YAW_DEADZONE":
		m.Yaw.Deadzone, err = parseNonNegative(key, value)
	case "YAW_DRIFT_WINDOW":
		m.Yaw.DriftWindow, err = parseInt(key, value)
	case "YAW_DRIFT_THRESHOLD":
		m.Yaw.DriftThreshold, err = parseNonNegative(key, value)
	case "YAW_SENSITIVITY":
		m.SensitivityX, err = parseFloat(key, value)
	case "YAW_RESPONSE_POWER":
		m.YawPower, err = parsePositive(key, value)

	// Vertical axis
	case "ACCEL_FILTER":
		m.Accel.Filter, err = motion.ParseFilterKind(value)
	case "ACCEL_KALMAN_R":
		m.Accel.KalmanR, err = parsePositive(key, value)
	case "ACCEL_KALMAN_Q":
		m.Accel.KalmanQ, err = parsePositive(key, value)
	case "ACCEL_LOWPASS_ALPHA":
		m.Accel.Alpha, err = parseUnit(key, value)
	case "ACCEL_DEADZONE":
		m.Accel.Deadzone, err = parseNonNegative(key, value)
	case "ACCEL_DRIFT_WINDOW":
		m.Accel.DriftWindow, err = parseInt(key, value)
	case "ACCEL_DRIFT_THRESHOLD":
		m.Accel.DriftThreshold, err = parseNonNegative(key, value)
	case "ACCEL_SENSITIVITY":
		m.SensitivityY, err = parseFloat(key, value)
	case "ACCEL_RESPONSE_POWER":
		m.AccelPower, err = parsePositive(key, value)

	// Physics
	case "VERTICAL_POLICY":
		m.Policy, err = motion.ParsePolicy(value)
	case "INTEGRATION":
		m.Integration, err = motion.ParseIntegration(value)
	case "BRAKING_FRICTION":
		m.BrakingFriction, err = parseFriction(key, value)
	case "GLIDING_FRICTION":
		m.GlidingFriction, err = parseFriction(key, value)
	case "STILLNESS_THRESHOLD":
		m.StillnessThreshold, err = parseNonNegative(key, value)
	case "STILLNESS_FRAMES":
		m.StillnessFrames, err = parseInt(key, value)
	case "VELOCITY_SNAP_EPSILON":
		m.VelocitySnapEpsilon, err = parseNonNegative(key, value)

	// Streaming / transport
	case "TICK_INTERVAL_MS":
		c.TickIntervalMS, err = parseInt(key, value)
	case "CONNECT_TIMEOUT_MS":
		c.ConnectTimeoutMS, err = parseInt(key, value)
	case "RECEIVE_POLL_MS":
		c.ReceivePollMS, err = parseInt(key, value)

	// Sensors
	case "SENSOR_SOURCE":
		switch value {
		case SourceMock, SourceMPU9250, SourceSerial:
			c.SensorSource = value
		default:
			return fmt.Errorf("SENSOR_SOURCE must be %s, %s or %s, got %q", SourceMock, SourceMPU9250, SourceSerial, value)
		}
	case "SENSOR_INTERVAL_MS":
		c.SensorIntervalMS, err = parseInt(key, value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, perr)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, perr)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)
	case "IMU_GRAVITY_ALPHA":
		c.IMUGravityAlpha, err = parseUnit(key, value)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, perr)
		}
		c.SerialBaudRate = uint(rate)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_POINTER":
		c.MQTTClientIDPointer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "TOPIC_MOVEMENT":
		c.TopicMovement = value
	case "TOPIC_STATE":
		c.TopicState = value

	// Web / console
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value)

	// Host simulator
	case "HOST_SIM_LISTEN":
		c.HostSimListen = value
	case "HOST_SIM_PASSWORD":
		c.HostSimPassword = value

	case "CALIBRATION_SECONDS":
		c.CalibrationSeconds, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseNonNegative(key, value string) (float64, error) {
	f, err := parseFloat(key, value)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %v", key, f)
	}
	return f, nil
}

func parsePositive(key, value string) (float64, error) {
	f, err := parseFloat(key, value)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %v", key, f)
	}
	return f, nil
}

// parseUnit accepts (0, 1].
func parseUnit(key, value string) (float64, error) {
	f, err := parseFloat(key, value)
	if err != nil {
		return 0, err
	}
	if f <= 0 || f > 1 {
		return 0, fmt.Errorf("%s must be in (0, 1], got %v", key, f)
	}
	return f, nil
}

// parseFriction accepts (0, 1): a factor of 1 would never bring velocity to rest.
func parseFriction(key, value string) (float64, error) {
	f, err := parseFloat(key, value)
	if err != nil {
		return 0, err
	}
	if f <= 0 || f >= 1 {
		return 0, fmt.Errorf("%s must be in (0, 1), got %v", key, f)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// validate checks cross-field constraints after every key has been applied.
func (c *Config) validate() error {
	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be > 0")
	}
	if c.ConnectTimeoutMS <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT_MS must be > 0")
	}
	if c.ReceivePollMS <= 0 {
		return fmt.Errorf("RECEIVE_POLL_MS must be > 0")
	}
	if c.SensorIntervalMS <= 0 {
		return fmt.Errorf("SENSOR_INTERVAL_MS must be > 0")
	}
	if c.SensorSource == SourceMPU9250 && (c.IMUSPIDevice == "" || c.IMUCSPin == "") {
		return fmt.Errorf("IMU_SPI_DEVICE and IMU_CS_PIN are required for SENSOR_SOURCE=%s", SourceMPU9250)
	}
	if c.SensorSource == SourceSerial && (c.SerialPort == "" || c.SerialBaudRate == 0) {
		return fmt.Errorf("SERIAL_PORT and SERIAL_BAUD_RATE are required for SENSOR_SOURCE=%s", SourceSerial)
	}
	if c.MQTTBroker != "" && (c.TopicMovement == "" || c.TopicState == "") {
		return fmt.Errorf("TOPIC_MOVEMENT and TOPIC_STATE are required when MQTT_BROKER is set")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be > 0")
	}
	if c.CalibrationSeconds <= 0 {
		return fmt.Errorf("CALIBRATION_SECONDS must be > 0")
	}

	m := c.Motion
	for _, ax := range []struct {
		name string
		spec motion.AxisSpec
	}{{"YAW", m.Yaw}, {"ACCEL", m.Accel}} {
		if ax.spec.DriftWindow == 1 || ax.spec.DriftWindow < 0 {
			return fmt.Errorf("%s_DRIFT_WINDOW must be 0 (disabled) or >= 2, got %d", ax.name, ax.spec.DriftWindow)
		}
		if ax.spec.Filter == motion.FilterLowPass && (ax.spec.Alpha <= 0 || ax.spec.Alpha > 1) {
			return fmt.Errorf("%s_LOWPASS_ALPHA must be in (0, 1] for the lowpass filter", ax.name)
		}
		if ax.spec.Filter == motion.FilterKalman && (ax.spec.KalmanR <= 0 || ax.spec.KalmanQ <= 0) {
			return fmt.Errorf("%s_KALMAN_R and %s_KALMAN_Q must be > 0 for the kalman filter", ax.name, ax.name)
		}
	}
	if m.Policy == motion.SnapToZero && m.StillnessFrames <= 0 {
		return fmt.Errorf("STILLNESS_FRAMES must be > 0 for VERTICAL_POLICY=%s", motion.SnapToZero)
	}
	if m.Policy != motion.SnapToZero && m.VelocitySnapEpsilon <= 0 {
		return fmt.Errorf("VELOCITY_SNAP_EPSILON must be > 0 for VERTICAL_POLICY=%s", m.Policy)
	}
	return nil
}

// Settings returns the motion settings selected by this configuration.
func (c *Config) Settings() motion.Settings { return c.Motion }

// TickInterval is the scheduler period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// ConnectTimeout bounds the pairing handshake.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ReceivePoll is how often the receive path checks for cancellation.
func (c *Config) ReceivePoll() time.Duration {
	return time.Duration(c.ReceivePollMS) * time.Millisecond
}

// SensorInterval is the polling period of polled sensor sources.
func (c *Config) SensorInterval() time.Duration {
	return time.Duration(c.SensorIntervalMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

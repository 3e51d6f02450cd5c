package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type appConfig struct {
	brokerURL            string
	mqttUsername         string
	mqttPassword         string
	clientID             string
	deviceID             string
	keepAlive            time.Duration
	connectTimeout       time.Duration
	reconnectBaseDelay   time.Duration
	reconnectMaxDelay    time.Duration
	maxReconnectAttempts int

	jwtSecret string

	listenAddr   string
	handshakeTO  time.Duration
	clientReadTO time.Duration

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration

	hubBuffer int
	hubPolicy string

	mdnsEnable bool
	mdnsName   string

	configFile string

	safetyOverrides yamlSafetyRanges
}

// yamlConfigFile is the optional on-disk config: broker credentials and
// safety-range overrides, loaded before flag/env so flags and env still win.
type yamlConfigFile struct {
	Broker struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"broker"`
	JWTSecret    string           `yaml:"jwtSecret"`
	SafetyRanges yamlSafetyRanges `yaml:"safetyRanges"`
}

type yamlSafetyRanges struct {
	TidalVolume     *rangeOverride `yaml:"tidalVolume,omitempty"`
	RespiratoryRate *rangeOverride `yaml:"respiratoryRate,omitempty"`
	PEEP            *rangeOverride `yaml:"peep,omitempty"`
	FiO2            *rangeOverride `yaml:"fio2,omitempty"`
	PressureLimit   *rangeOverride `yaml:"pressureLimit,omitempty"`
	InspiratoryTime *rangeOverride `yaml:"inspiratoryTime,omitempty"`
	FlowRate        *rangeOverride `yaml:"flowRate,omitempty"`
}

type rangeOverride struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	broker := flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	mqttUser := flag.String("mqtt-username", "", "MQTT username")
	mqttPass := flag.String("mqtt-password", "", "MQTT password")
	clientID := flag.String("mqtt-client-id", "ventylab-mediator", "MQTT client id")
	deviceID := flag.String("device-id", "ventilab-device-001", "Physical device id")
	keepAlive := flag.Duration("keep-alive", 60*time.Second, "MQTT keep-alive interval")
	connectTO := flag.Duration("connect-timeout", 10*time.Second, "MQTT connect timeout")
	reconnectBase := flag.Duration("reconnect-base-delay", 5*time.Second, "Reconnect backoff base delay")
	reconnectMax := flag.Duration("reconnect-max-delay", 60*time.Second, "Reconnect backoff cap")
	maxReconnect := flag.Int("max-reconnect-attempts", 10, "Reconnect attempts before the link goes to ERROR")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for WebSocket authenticate bearer tokens")
	listen := flag.String("listen", ":8080", "WebSocket gateway + REST listen address")
	handshakeTO := flag.Duration("handshake-timeout", 10*time.Second, "Socket authenticate handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 30*time.Second, "Per-connection pong read deadline")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	hubBuf := flag.Int("hub-buffer", 64, "Per-client gateway outbound buffer (envelopes)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the WebSocket gateway")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default ventylab-mediator-<hostname>)")
	configFile := flag.String("config", "", "Optional YAML config file (broker credentials, safety-range overrides)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.brokerURL = *broker
	cfg.mqttUsername = *mqttUser
	cfg.mqttPassword = *mqttPass
	cfg.clientID = *clientID
	cfg.deviceID = *deviceID
	cfg.keepAlive = *keepAlive
	cfg.connectTimeout = *connectTO
	cfg.reconnectBaseDelay = *reconnectBase
	cfg.reconnectMaxDelay = *reconnectMax
	cfg.maxReconnectAttempts = *maxReconnect
	cfg.jwtSecret = *jwtSecret
	cfg.listenAddr = *listen
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.configFile = *configFile

	if cfg.configFile != "" {
		if err := applyYAMLConfig(cfg, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// applyYAMLConfig loads broker credentials and safety-range overrides from
// cfg.configFile; flags take precedence over file values just as env does.
func applyYAMLConfig(c *appConfig, set map[string]struct{}) error {
	b, err := os.ReadFile(c.configFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var doc yamlConfigFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if _, ok := set["mqtt-broker"]; !ok && doc.Broker.URL != "" {
		c.brokerURL = doc.Broker.URL
	}
	if _, ok := set["mqtt-username"]; !ok && doc.Broker.Username != "" {
		c.mqttUsername = doc.Broker.Username
	}
	if _, ok := set["mqtt-password"]; !ok && doc.Broker.Password != "" {
		c.mqttPassword = doc.Broker.Password
	}
	if _, ok := set["jwt-secret"]; !ok && doc.JWTSecret != "" {
		c.jwtSecret = doc.JWTSecret
	}
	c.safetyOverrides = doc.SafetyRanges
	return nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.maxReconnectAttempts <= 0 {
		return fmt.Errorf("max-reconnect-attempts must be > 0")
	}
	if c.keepAlive <= 0 {
		return fmt.Errorf("keep-alive must be > 0")
	}
	if c.connectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.brokerURL == "" {
		return fmt.Errorf("mqtt-broker must not be empty")
	}
	if c.deviceID == "" {
		return fmt.Errorf("device-id must not be empty")
	}
	return nil
}

// applyEnvOverrides maps VENTYLAB_MEDIATOR_* environment variables onto cfg
// unless the corresponding flag was explicitly set, mirroring the teacher's
// CAN_SERVER_* precedence rule (flag > env > file > default).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["mqtt-broker"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_MQTT_BROKER"); ok && v != "" {
			c.brokerURL = v
		}
	}
	if _, ok := set["mqtt-username"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_MQTT_USERNAME"); ok {
			c.mqttUsername = v
		}
	}
	if _, ok := set["mqtt-password"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_MQTT_PASSWORD"); ok {
			c.mqttPassword = v
		}
	}
	if _, ok := set["device-id"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_DEVICE_ID"); ok && v != "" {
			c.deviceID = v
		}
	}
	if _, ok := set["jwt-secret"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_JWT_SECRET"); ok {
			c.jwtSecret = v
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid VENTYLAB_MEDIATOR_HUB_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
		}
	}
	if _, ok := set["max-reconnect-attempts"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_MAX_RECONNECT_ATTEMPTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxReconnectAttempts = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid VENTYLAB_MEDIATOR_MAX_RECONNECT_ATTEMPTS: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("VENTYLAB_MEDIATOR_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid VENTYLAB_MEDIATOR_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}

package main

import (
	"os"
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		brokerURL:            "tcp://localhost:1883",
		clientID:             "ventylab-mediator",
		deviceID:             "ventilab-device-001",
		keepAlive:            60 * time.Second,
		connectTimeout:       10 * time.Second,
		reconnectBaseDelay:   5 * time.Second,
		reconnectMaxDelay:    60 * time.Second,
		maxReconnectAttempts: 10,
		listenAddr:           ":8080",
		handshakeTO:          10 * time.Second,
		clientReadTO:         30 * time.Second,
		logFormat:            "text",
		logLevel:             "info",
		hubBuffer:            64,
		hubPolicy:            "drop",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badMaxReconnect", func(c *appConfig) { c.maxReconnectAttempts = 0 }},
		{"badKeepAlive", func(c *appConfig) { c.keepAlive = 0 }},
		{"emptyBroker", func(c *appConfig) { c.brokerURL = "" }},
		{"emptyDevice", func(c *appConfig) { c.deviceID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseConfig()
			tt.mod(c)
			if err := c.validate(); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()
	os.Setenv("VENTYLAB_MEDIATOR_DEVICE_ID", "ventilab-device-002")
	os.Setenv("VENTYLAB_MEDIATOR_MDNS_ENABLE", "true")
	os.Setenv("VENTYLAB_MEDIATOR_HUB_BUFFER", "128")
	t.Cleanup(func() {
		os.Unsetenv("VENTYLAB_MEDIATOR_DEVICE_ID")
		os.Unsetenv("VENTYLAB_MEDIATOR_MDNS_ENABLE")
		os.Unsetenv("VENTYLAB_MEDIATOR_HUB_BUFFER")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.deviceID != "ventilab-device-002" {
		t.Fatalf("expected deviceID override, got %s", base.deviceID)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.hubBuffer != 128 {
		t.Fatalf("expected hubBuffer 128, got %d", base.hubBuffer)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	base.deviceID = "explicit-device"
	os.Setenv("VENTYLAB_MEDIATOR_DEVICE_ID", "from-env")
	t.Cleanup(func() { os.Unsetenv("VENTYLAB_MEDIATOR_DEVICE_ID") })
	if err := applyEnvOverrides(base, map[string]struct{}{"device-id": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.deviceID != "explicit-device" {
		t.Fatalf("expected deviceID unchanged, got %s", base.deviceID)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := baseConfig()
	os.Setenv("VENTYLAB_MEDIATOR_HUB_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("VENTYLAB_MEDIATOR_HUB_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyYAMLConfig_BrokerAndSafetyOverrides(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "mediator-config-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	defer f.Close()
	yamlBody := `
broker:
  url: tcp://broker.example.com:1883
  username: svc
  password: secret
jwtSecret: supersecret
safetyRanges:
  tidalVolume:
    lo: 150
    hi: 900
`
	if _, err := f.WriteString(yamlBody); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := baseConfig()
	c.configFile = f.Name()
	if err := applyYAMLConfig(c, map[string]struct{}{}); err != nil {
		t.Fatalf("applyYAMLConfig: %v", err)
	}
	if c.brokerURL != "tcp://broker.example.com:1883" {
		t.Fatalf("broker url not applied: %s", c.brokerURL)
	}
	if c.jwtSecret != "supersecret" {
		t.Fatalf("jwt secret not applied: %s", c.jwtSecret)
	}
	if c.safetyOverrides.TidalVolume == nil || c.safetyOverrides.TidalVolume.Lo != 150 {
		t.Fatalf("tidal volume override not applied: %+v", c.safetyOverrides.TidalVolume)
	}
}

func TestApplyYAMLConfig_FlagWins(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "mediator-config-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString("broker:\n  url: tcp://from-file:1883\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := baseConfig()
	c.configFile = f.Name()
	c.brokerURL = "tcp://from-flag:1883"
	if err := applyYAMLConfig(c, map[string]struct{}{"mqtt-broker": {}}); err != nil {
		t.Fatalf("applyYAMLConfig: %v", err)
	}
	if c.brokerURL != "tcp://from-flag:1883" {
		t.Fatalf("expected flag to win, got %s", c.brokerURL)
	}
}

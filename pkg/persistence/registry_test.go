package persistence

import (
	"testing"
	"time"
)

func TestRegisterProvider(t *testing.T) {
	mockFactory := func(config PluginConfig) (PluginPersistence, error) {
		return nil, nil
	}

	RegisterProvider("test", mockFactory)

	providers := ListProviders()
	found := false
	for _, p := range providers {
		if p == "test" {
			found = true
			break
		}
	}

	if !found {
		t.Errorf("Expected to find 'test' provider in list, got: %v", providers)
	}
}

func TestNewPersistenceUnknownProvider(t *testing.T) {
	cfg := ProviderConfig{
		Type:   "unknown_provider",
		Config: []byte("{}"),
	}

	_, err := NewPersistence(cfg, PluginConfig{})
	if err == nil {
		t.Error("Expected error for unknown provider, got nil")
	}
}

func TestNewPersistencePassesProviderConfig(t *testing.T) {
	var got PluginConfig
	RegisterProvider("capture", func(config PluginConfig) (PluginPersistence, error) {
		got = config
		return nil, nil
	})

	_, err := NewPersistence(ProviderConfig{Type: "capture", Config: []byte(`{"addr":"x"}`)}, PluginConfig{Retention: time.Minute})
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	if string(got.Config) != `{"addr":"x"}` {
		t.Fatalf("config not forwarded: %s", got.Config)
	}
	if got.RetentionOrDefault() != time.Minute {
		t.Fatalf("retention = %v", got.RetentionOrDefault())
	}
}

func TestPluginConfigDefaults(t *testing.T) {
	var c PluginConfig
	if c.RetentionOrDefault() != DefaultRetention {
		t.Fatalf("default retention = %v", c.RetentionOrDefault())
	}
	if c.Clock()().IsZero() {
		t.Fatalf("default clock returned zero time")
	}
}

package config

import (
	"errors"
	"strings"
	"testing"
)

func validTestConfig() *Config {
	config := &Config{
		Server: &ServerConfig{Host: "vpn.example.com", Port: 443},
	}
	config.applyDefaults()
	return config
}

func fieldPaths(err error) []string {
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	paths := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		paths = append(paths, ve.FieldPath)
	}
	return paths
}

func assertFieldError(t *testing.T, err error, fieldPath string) {
	t.Helper()

	if err == nil {
		t.Fatalf("Expected validation error for %s", fieldPath)
	}
	for _, path := range fieldPaths(err) {
		if path == fieldPath {
			return
		}
	}
	t.Errorf("Expected error for field %s, got: %v", fieldPath, err)
}

func TestValidateConfig_Success(t *testing.T) {
	config := validTestConfig()

	if err := config.ValidateConfig(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestValidateConfig_MissingServer(t *testing.T) {
	config := &Config{}
	config.applyDefaults()
	config.Server = nil

	err := config.ValidateConfig()
	if err == nil {
		t.Error("Expected error for missing server config")
	}
}

func TestValidateConfig_MissingServerHost(t *testing.T) {
	config := validTestConfig()
	config.Server.Host = ""

	assertFieldError(t, config.ValidateConfig(), "server.host")
}

func TestValidateConfig_InvalidInterfaceName(t *testing.T) {
	config := validTestConfig()
	config.Tunnel.Interface = "way-too-long-interface-name"

	assertFieldError(t, config.ValidateConfig(), "tunnel.interface")
}

func TestValidateConfig_InvalidLocalIP(t *testing.T) {
	config := validTestConfig()
	config.Tunnel.LocalIP = "not-an-ip"

	assertFieldError(t, config.ValidateConfig(), "tunnel.local_ip")
}

func TestValidateConfig_IPv6LocalIPRejected(t *testing.T) {
	config := validTestConfig()
	config.Tunnel.LocalIP = "[fd00::2]"

	assertFieldError(t, config.ValidateConfig(), "tunnel.local_ip")
}

func TestValidateConfig_EmptyGatewayAllowed(t *testing.T) {
	config := validTestConfig()
	config.Tunnel.Gateway = ""

	if err := config.ValidateConfig(); err != nil {
		t.Errorf("Expected empty gateway to be allowed, got: %v", err)
	}
}

func TestValidateConfig_InvalidMTU(t *testing.T) {
	config := validTestConfig()
	config.Tunnel.MTU = 100

	assertFieldError(t, config.ValidateConfig(), "tunnel.mtu")
}

func TestValidateConfig_InvalidResolver(t *testing.T) {
	config := validTestConfig()
	config.DNS.Resolvers = []string{"8.8.8.8", "not-an-ip"}

	err := config.ValidateConfig()
	if err == nil {
		t.Fatal("Expected validation error for invalid resolver")
	}
	if !strings.Contains(err.Error(), "resolvers") {
		t.Errorf("Expected resolvers error, got: %v", err)
	}
}

func TestValidateConfig_DuplicateResolvers(t *testing.T) {
	config := validTestConfig()
	config.DNS.Resolvers = []string{"8.8.8.8", "8.8.8.8"}

	assertFieldError(t, config.ValidateConfig(), "dns.resolvers")
}

func TestValidateConfig_InvalidScope(t *testing.T) {
	config := validTestConfig()
	config.DNS.Scope = "everything"

	assertFieldError(t, config.ValidateConfig(), "dns.scope")
}

func TestValidateConfig_BackupSameAsResolvConf(t *testing.T) {
	config := validTestConfig()
	config.DNS.BackupPath = config.DNS.ResolvConf

	assertFieldError(t, config.ValidateConfig(), "dns.backup_path")
}

func TestValidateConfig_InvalidCheckAddress(t *testing.T) {
	config := validTestConfig()
	config.Health.CheckAddress = "1.1.1.1"

	assertFieldError(t, config.ValidateConfig(), "health.check_address")
}

func TestValidateConfig_InvalidAPIBindAddress(t *testing.T) {
	config := validTestConfig()
	config.API.Enabled = true
	config.API.BindAddress = "localhost"

	assertFieldError(t, config.ValidateConfig(), "api.bind_address")
}

func TestValidateConfig_CollectsMultipleErrors(t *testing.T) {
	config := validTestConfig()
	config.Server.Host = ""
	config.Tunnel.MTU = 1
	config.Health.FailureThreshold = 0

	err := config.ValidateConfig()
	if err == nil {
		t.Fatal("Expected validation errors")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 3 {
		t.Errorf("Expected at least 3 errors, got %d: %v", len(verrs), verrs)
	}
}

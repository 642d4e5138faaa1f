package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvHelpers_Defaults(t *testing.T) {
	t.Setenv("SLATE_TEST_UNSET", "")

	if got := EnvString("SLATE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvBool("SLATE_TEST_UNSET", true); !got {
		t.Fatalf("EnvBool default not used")
	}
	if got := EnvInt("SLATE_TEST_UNSET", 7); got != 7 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvDuration("SLATE_TEST_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvCSV("SLATE_TEST_UNSET", []string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("EnvCSV=%v", got)
	}
}

func TestEnvHelpers_RejectBadValues(t *testing.T) {
	t.Setenv("SLATE_TEST_INT", "-3")
	if got := EnvInt("SLATE_TEST_INT", 7); got != 7 {
		t.Fatalf("negative int must fall back, got %d", got)
	}

	t.Setenv("SLATE_TEST_INT32", "-1")
	if got := EnvInt32("SLATE_TEST_INT32", 5); got != 5 {
		t.Fatalf("negative int32 must fall back, got %d", got)
	}
	t.Setenv("SLATE_TEST_INT32", "0")
	if got := EnvInt32("SLATE_TEST_INT32", 5); got != 0 {
		t.Fatalf("zero is valid for int32, got %d", got)
	}

	t.Setenv("SLATE_TEST_FLOAT", "0")
	if got := EnvFloat64("SLATE_TEST_FLOAT", 2.0); got != 2.0 {
		t.Fatalf("non-positive float must fall back, got %v", got)
	}

	t.Setenv("SLATE_TEST_DUR", "soon")
	if got := EnvDuration("SLATE_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("unparseable duration must fall back, got %v", got)
	}

	t.Setenv("SLATE_TEST_BOOL", "maybe")
	if got := EnvBool("SLATE_TEST_BOOL", true); !got {
		t.Fatalf("unparseable bool must fall back")
	}
}

func TestEnvCSV_TrimsBlanks(t *testing.T) {
	t.Setenv("SLATE_TEST_CSV", " a, ,b ,")
	if got := EnvCSV("SLATE_TEST_CSV", nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("EnvCSV=%v", got)
	}

	t.Setenv("SLATE_TEST_CSV", " , ,")
	if got := EnvCSV("SLATE_TEST_CSV", []string{"def"}); !reflect.DeepEqual(got, []string{"def"}) {
		t.Fatalf("all-blank list must fall back, got %v", got)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SLATE_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("SLATE_LOG_FORMAT", "text")
	t.Setenv("SLATE_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("SLATE_UPSTREAM_URL", "https://upstream.example")
	t.Setenv("SLATE_BRIDGE_RETRY_MAX_ATTEMPTS", "3")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat=%q", cfg.LogFormat)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.UpstreamURL != "https://upstream.example" {
		t.Fatalf("UpstreamURL=%q", cfg.UpstreamURL)
	}
	if cfg.BridgeRetryMaxAttempts != 3 {
		t.Fatalf("BridgeRetryMaxAttempts=%d", cfg.BridgeRetryMaxAttempts)
	}

	// Untouched keys keep their defaults.
	if cfg.SnapshotSchema != "slate" {
		t.Fatalf("SnapshotSchema=%q", cfg.SnapshotSchema)
	}
	if cfg.BridgePullInterval != 30*time.Second {
		t.Fatalf("BridgePullInterval=%v", cfg.BridgePullInterval)
	}
}

func TestLoadConfig_GatewayKnobs(t *testing.T) {
	t.Setenv("SLATE_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("SLATE_WS_ALLOWED_ORIGINS", "https://a.example")
	t.Setenv("SLATE_WS_SEND_QUEUE", "512")
	t.Setenv("SLATE_WS_RATE_BURST", "40")
	t.Setenv("SLATE_WS_READ_IDLE_TIMEOUT", "90s")

	cfg := LoadConfig()
	if cfg.WSOriginRequired {
		t.Fatalf("WSOriginRequired not overridden")
	}
	if !reflect.DeepEqual(cfg.WSAllowedOrigins, []string{"https://a.example"}) {
		t.Fatalf("WSAllowedOrigins=%v", cfg.WSAllowedOrigins)
	}
	if cfg.WSSendQueueSize != 512 {
		t.Fatalf("WSSendQueueSize=%d", cfg.WSSendQueueSize)
	}
	if cfg.WSRateBurst != 40 {
		t.Fatalf("WSRateBurst=%v", cfg.WSRateBurst)
	}
	if cfg.WSReadIdleTimeout != 90*time.Second {
		t.Fatalf("WSReadIdleTimeout=%v", cfg.WSReadIdleTimeout)
	}

	// Untouched gateway knobs come from the realtime defaults.
	if cfg.WSDevInsecure || cfg.WSRatePerSec <= 0 || cfg.WSHeartbeatInterval <= 0 {
		t.Fatalf("gateway defaults: %+v", cfg)
	}
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lilac-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "lilac-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "lilac-dev" {
		t.Errorf("expected events project to default to firebase project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Payments.Currency != "GBP" {
		t.Errorf("expected default currency GBP, got %s", cfg.Payments.Currency)
	}
	if cfg.Orders.DefaultListLimit != 20 || cfg.Orders.MaxListLimit != 100 {
		t.Errorf("unexpected order limits: %+v", cfg.Orders)
	}
	if cfg.Environment != "local" || cfg.Production() {
		t.Errorf("expected non-production local environment, got %s", cfg.Environment)
	}
	if !cfg.Events.Enabled || cfg.Events.TopicID != "storefront-events" {
		t.Errorf("unexpected events defaults: %+v", cfg.Events)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_FIREBASE_PROJECT_ID":            "lilac-prod",
		"API_FIRESTORE_PROJECT_ID":           "lilac-fire",
		"API_PAYMENTS_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PAYMENTS_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
		"API_PAYMENTS_SUCCESS_URL":           "https://lilacbloom.example/checkout/success",
		"API_PAYMENTS_CANCEL_URL":            "https://lilacbloom.example/checkout/cancel",
		"API_PAYMENTS_CURRENCY":              "eur",
		"API_EVENTS_TOPIC_ID":                "florist-events",
		"API_ENVIRONMENT":                    "Production",
	}

	resolved := map[string]string{
		"secret://stripe/api":     "sk_live_123",
		"secret://stripe/webhook": "whsec_456",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := resolved[ref]
		if !ok {
			return "", errors.New("unknown ref")
		}
		return value, nil
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Payments.StripeAPIKey", "Payments.StripeWebhookSecret"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "lilac-fire" {
		t.Errorf("firestore override not applied: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Payments.StripeAPIKey != "sk_live_123" {
		t.Errorf("stripe api key not resolved: %q", cfg.Payments.StripeAPIKey)
	}
	if cfg.Payments.StripeWebhookSecret != "whsec_456" {
		t.Errorf("sm:// reference not normalized and resolved: %q", cfg.Payments.StripeWebhookSecret)
	}
	if cfg.Payments.Currency != "EUR" {
		t.Errorf("currency not upper-cased: %s", cfg.Payments.Currency)
	}
	if !cfg.Production() {
		t.Errorf("expected production environment, got %s", cfg.Environment)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) == 0 {
		t.Fatalf("expected missing fields to be reported")
	}
}

func TestLoadMissingRequiredSecret(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lilac-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "Payments.StripeAPIKey" {
		t.Fatalf("unexpected missing secrets: %v", names)
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":     "lilac-dev",
		"API_PAYMENTS_STRIPE_API_KEY": "secret://stripe/api",
	}
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("backend unavailable")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected secret ref: %s", secretErr.Ref)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	contents := "API_FIREBASE_PROJECT_ID=lilac-local\nexport API_SERVER_PORT=7070\n# comment\nAPI_PAYMENTS_CURRENCY=\"usd\"\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envFile), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "lilac-local" {
		t.Errorf("dotenv project not applied: %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("export-prefixed entry not applied: %s", cfg.Server.Port)
	}
	if cfg.Payments.Currency != "USD" {
		t.Errorf("quoted value not unquoted: %s", cfg.Payments.Currency)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=lilac-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	values, err := EnvironmentValues(WithEnvFile(envFile), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "9999"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_SERVER_PORT"] != "9999" {
		t.Fatalf("env map should win over dotenv, got %s", values["API_SERVER_PORT"])
	}
	if values["API_FIREBASE_PROJECT_ID"] != "lilac-file" {
		t.Fatalf("dotenv value lost: %s", values["API_FIREBASE_PROJECT_ID"])
	}
}

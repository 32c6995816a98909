package envconf

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_RequiredAndOptional(t *testing.T) {
	type cfg struct {
		Name    string        `env:"TEST_ENVCONF_NAME"`
		Extra   string        `env:"TEST_ENVCONF_EXTRA,optional"`
		Window  time.Duration `env:"TEST_ENVCONF_WINDOW,optional"`
		Skipped string
	}

	t.Setenv("TEST_ENVCONF_NAME", "credit-core")

	var c cfg

	err := Load(&c)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Name != "credit-core" {
		t.Fatalf("name: want credit-core, got %q", c.Name)
	}
	if c.Extra != "" || c.Window != 0 {
		t.Fatalf("optional fields must stay zero when unset: %+v", c)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	type cfg struct {
		Missing string `env:"TEST_ENVCONF_DEFINITELY_UNSET"`
	}

	var c cfg

	err := Load(&c)
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("want ErrMissingRequired, got %v", err)
	}
}

func TestLoad_NestedStructAndDuration(t *testing.T) {
	type inner struct {
		Window time.Duration `env:"TEST_ENVCONF_NESTED_WINDOW"`
	}
	type cfg struct {
		Inner inner
	}

	t.Setenv("TEST_ENVCONF_NESTED_WINDOW", "90m")

	var c cfg

	err := Load(&c)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Inner.Window != 90*time.Minute {
		t.Fatalf("window: want 90m, got %s", c.Inner.Window)
	}
}

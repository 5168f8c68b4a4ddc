package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLevel(t *testing.T) {
	orig := Log
	defer func() { Log = orig }()

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if Log.GetLevel() != zerolog.WarnLevel {
		t.Errorf("Expected warn level, got %s", Log.GetLevel())
	}

	if err := SetLevel(""); err != nil {
		t.Errorf("Expected empty level to be ignored, got %v", err)
	}
	if Log.GetLevel() != zerolog.WarnLevel {
		t.Errorf("Expected level to stay warn, got %s", Log.GetLevel())
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

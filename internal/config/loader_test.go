package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/morphsync/internal/config"
)

func TestValidate_GltfRequiresPath(t *testing.T) {
	t.Parallel()
	yaml := `
sinks:
  mesh:
    name: gltf
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for gltf mesh sink without path, got nil")
	}
	if !strings.Contains(err.Error(), "sinks.mesh.path") {
		t.Errorf("error should mention sinks.mesh.path, got: %v", err)
	}
}

func TestValidate_GltfWithPathIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
sinks:
  mesh:
    name: gltf
    path: assets/face.gltf
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SpeakerSinkIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
sinks:
  audio:
    name: speaker
    options:
      buffer_size: 20ms
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownSinkNameIsNotAnError(t *testing.T) {
	t.Parallel()
	// Unknown sink names only warn: a wrapping program may have registered
	// them before loading the config.
	yaml := `
sinks:
  audio:
    name: jack
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
upstream:
  url: ftp://somewhere
playback:
  frame_rate: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	// All three failures should be reported together.
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "scheme") {
		t.Errorf("error should mention the upstream scheme, got: %v", err)
	}
	if !strings.Contains(errStr, "frame_rate") {
		t.Errorf("error should mention frame_rate, got: %v", err)
	}
}

func TestValidSinkNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidSinkNames) == 0 {
		t.Fatal("ValidSinkNames should not be empty")
	}
	audioNames := config.ValidSinkNames["audio"]
	if len(audioNames) == 0 {
		t.Fatal("ValidSinkNames[\"audio\"] should not be empty")
	}
	// Check that "speaker" is in the audio list.
	found := false
	for _, n := range audioNames {
		if n == "speaker" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidSinkNames[\"audio\"] should contain \"speaker\"")
	}
}

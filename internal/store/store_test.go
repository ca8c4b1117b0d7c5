package store

import "testing"

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ModelConfig
		wantErr bool
	}{
		{"defaults", DefaultModelConfig(), false},
		{"bounds", ModelConfig{Temperature: 2, MinP: 1, MaxTokens: 1}, false},
		{"temperature too high", ModelConfig{Temperature: 2.1, MinP: 0.1, MaxTokens: 10}, true},
		{"negative temperature", ModelConfig{Temperature: -0.1, MinP: 0.1, MaxTokens: 10}, true},
		{"min_p too high", ModelConfig{Temperature: 1, MinP: 1.5, MaxTokens: 10}, true},
		{"zero max tokens", ModelConfig{Temperature: 1, MinP: 0.1, MaxTokens: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("admin"); err != nil || r != RoleAdmin {
		t.Errorf("ParseRole(admin) = %q, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Error("expected error for unknown role")
	}
}

package options_test

import (
	"testing"
	"time"

	"github.com/sophialabs/odatamock/internal/domain/options"
)

func TestFromQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    options.Options
		wantErr bool
	}{
		{
			name:  "empty",
			query: "",
			want:  options.Options{},
		},
		{
			name:  "all parameters",
			query: "serverDelay=100&metadataError=true&errorType=badRequest",
			want: options.Options{
				Delay:         options.Delay(100 * time.Millisecond),
				MetadataError: options.Bool(true),
				ErrorType:     options.String("badRequest"),
			},
		},
		{
			name:  "metadataError false",
			query: "metadataError=false",
			want:  options.Options{MetadataError: options.Bool(false)},
		},
		{
			name:    "negative delay",
			query:   "serverDelay=-5",
			wantErr: true,
		},
		{
			name:    "non-numeric delay",
			query:   "serverDelay=fast",
			wantErr: true,
		},
		{
			name:    "non-boolean metadataError",
			query:   "metadataError=yes",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := options.FromQuery(tt.query)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertOptions(t, got, tt.want)
		})
	}
}

func assertOptions(t *testing.T, got, want options.Options) {
	t.Helper()
	if (got.Delay == nil) != (want.Delay == nil) || (got.Delay != nil && *got.Delay != *want.Delay) {
		t.Errorf("Delay = %v, want %v", got.Delay, want.Delay)
	}
	if (got.MetadataError == nil) != (want.MetadataError == nil) || (got.MetadataError != nil && *got.MetadataError != *want.MetadataError) {
		t.Errorf("MetadataError = %v, want %v", got.MetadataError, want.MetadataError)
	}
	if (got.ErrorType == nil) != (want.ErrorType == nil) || (got.ErrorType != nil && *got.ErrorType != *want.ErrorType) {
		t.Errorf("ErrorType = %v, want %v", got.ErrorType, want.ErrorType)
	}
}

func TestMerge_Precedence(t *testing.T) {
	ambient := options.Options{
		Delay:         options.Delay(250 * time.Millisecond),
		MetadataError: options.Bool(true),
		ErrorType:     options.String("serverError"),
	}

	t.Run("defaults", func(t *testing.T) {
		r := options.Merge(options.Options{}, options.Options{})
		if r.Delay != 500*time.Millisecond {
			t.Errorf("expected default delay 500ms, got %v", r.Delay)
		}
		if r.MetadataError || r.SimulatesError() {
			t.Error("expected no error simulation by default")
		}
	})

	t.Run("ambient fallback", func(t *testing.T) {
		r := options.Merge(options.Options{}, ambient)
		if r.Delay != 250*time.Millisecond {
			t.Errorf("expected 250ms, got %v", r.Delay)
		}
		if !r.MetadataError {
			t.Error("expected metadata error from ambient")
		}
		if r.ErrorType != "serverError" {
			t.Errorf("expected serverError, got %q", r.ErrorType)
		}
	})

	t.Run("caller wins", func(t *testing.T) {
		caller := options.Options{
			Delay:         options.Delay(0),
			MetadataError: options.Bool(false),
			ErrorType:     options.String("badRequest"),
		}
		r := options.Merge(caller, ambient)
		if r.Delay != 0 {
			t.Errorf("expected explicit zero delay, got %v", r.Delay)
		}
		if r.MetadataError {
			t.Error("expected caller to disable metadata error")
		}
		if r.ErrorType != "badRequest" {
			t.Errorf("expected badRequest, got %q", r.ErrorType)
		}
	})

	t.Run("negative delay clamps to zero", func(t *testing.T) {
		r := options.Merge(options.Options{Delay: options.Delay(-time.Second)}, options.Options{})
		if r.Delay != 0 {
			t.Errorf("expected 0, got %v", r.Delay)
		}
	})
}

func TestResolved_ErrorStatus(t *testing.T) {
	tests := []struct {
		errorType string
		want      int
	}{
		{errorType: "badRequest", want: 400},
		{errorType: "serverError", want: 500},
		{errorType: "anything", want: 500},
	}

	for _, tt := range tests {
		t.Run(tt.errorType, func(t *testing.T) {
			r := options.Resolved{ErrorType: tt.errorType}
			if got := r.ErrorStatus(); got != tt.want {
				t.Errorf("ErrorStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

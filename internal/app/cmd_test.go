package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"空の引数はserve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"migrate down", []string{"migrate", "down"}, CommandMigrateDown},
		{"migrateのフラグは無視", []string{"migrate", "--verbose"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"余分な引数は無視", []string{"worker", "--flag", "value"}, CommandWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UnknownIsError(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {"srve"}, {"migrate", "sideways"}} {
		_, err := ParseCommand(args)
		if err == nil {
			t.Errorf("ParseCommand(%v) error = nil, want error", args)
			continue
		}
		if !strings.Contains(err.Error(), "usage") {
			t.Errorf("error %q should include usage", err.Error())
		}
	}
}

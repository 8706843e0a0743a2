package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"空はserve", []string{}, CommandServe},
		{"nilはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"migrateの後続引数は無視", []string{"migrate", "down", "2"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"余分な引数", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    MigrateArgs
		wantErr bool
	}{
		{"引数なしはup", nil, MigrateArgs{Action: MigrateUp}, false},
		{"up", []string{"up"}, MigrateArgs{Action: MigrateUp}, false},
		{"version", []string{"version"}, MigrateArgs{Action: MigrateVersion}, false},
		{"downの件数省略は1", []string{"down"}, MigrateArgs{Action: MigrateDown, Steps: 1}, false},
		{"down 3", []string{"down", "3"}, MigrateArgs{Action: MigrateDown, Steps: 3}, false},
		{"down 0はエラー", []string{"down", "0"}, MigrateArgs{}, true},
		{"down -1はエラー", []string{"down", "-1"}, MigrateArgs{}, true},
		{"down 数値以外はエラー", []string{"down", "all"}, MigrateArgs{}, true},
		{"down 引数過多", []string{"down", "1", "2"}, MigrateArgs{}, true},
		{"up 引数過多", []string{"up", "1"}, MigrateArgs{}, true},
		{"version 引数過多", []string{"version", "x"}, MigrateArgs{}, true},
		{"未知の操作", []string{"force"}, MigrateArgs{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMigrateArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMigrateArgs(%v) error = nil, want error", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMigrateArgs(%v) unexpected error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseMigrateArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

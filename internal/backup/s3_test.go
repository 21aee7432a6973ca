package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseS3BucketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantBkt   string
		wantPre   string
		errSubstr string
	}{
		{name: "bucket only", raw: "s3://my-bucket", wantBkt: "my-bucket"},
		{name: "bucket with prefix", raw: "s3://my-bucket/pulse/archives/", wantBkt: "my-bucket", wantPre: "pulse/archives"},
		{name: "invalid scheme", raw: "https://my-bucket/pulse", wantErr: true, errSubstr: "s3:// scheme"},
		{name: "missing bucket", raw: "s3:///pulse", wantErr: true, errSubstr: "missing bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotBkt, gotPre, err := parseS3BucketURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errSubstr) {
					t.Fatalf("err = %q, want substring %q", err.Error(), tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseS3BucketURL error: %v", err)
			}
			if gotBkt != tt.wantBkt || gotPre != tt.wantPre {
				t.Fatalf("got (%q, %q), want (%q, %q)", gotBkt, gotPre, tt.wantBkt, tt.wantPre)
			}
		})
	}
}

func TestNewS3Uploader_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewS3Uploader(S3Config{BucketURL: "s3://my-bucket/pulse"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestUploadFile_BuildsCommand(t *testing.T) {
	t.Parallel()

	var gotArgs, gotEnv []string
	run := func(_ context.Context, env []string, name string, args ...string) ([]byte, error) {
		if name != "aws" {
			t.Fatalf("command = %q, want aws", name)
		}
		gotArgs, gotEnv = args, env
		return nil, nil
	}
	u := newS3Uploader("bucket", "pulse", S3Config{
		Endpoint:     "minio.local:9000",
		AccessKey:    "AK",
		SecretKey:    "SK",
		SessionToken: "TOK",
	}, run)
	u.now = func() time.Time { return time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC) }

	if err := u.UploadFile(context.Background(), "/tmp/pulse-metrics-x.jsonl"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{
		"s3 cp /tmp/pulse-metrics-x.jsonl s3://bucket/pulse/2024/09/02/pulse-metrics-x.jsonl",
		"--region us-east-1",
		"--endpoint-url http://minio.local:9000",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	env := strings.Join(gotEnv, "\n")
	if !strings.Contains(env, "AWS_SESSION_TOKEN=TOK") || !strings.Contains(env, "AWS_ACCESS_KEY_ID=AK") {
		t.Fatalf("env missing credentials")
	}
}

func TestUploadFile_ReportsOutput(t *testing.T) {
	t.Parallel()

	run := func(context.Context, []string, string, ...string) ([]byte, error) {
		return []byte("access denied\n"), errors.New("exit status 1")
	}
	u := newS3Uploader("bucket", "", S3Config{AccessKey: "a", SecretKey: "b"}, run)
	err := u.UploadFile(context.Background(), "/tmp/f.jsonl")
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v, want command output", err)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                      "",
		"https://s3.example":    "https://s3.example",
		"http://localhost:9000": "http://localhost:9000",
	}
	for in, want := range cases {
		if got := normalizeEndpoint(in, false); got != want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
	if got := normalizeEndpoint("s3.example", true); got != "https://s3.example" {
		t.Fatalf("normalizeEndpoint with ssl = %q", got)
	}
}

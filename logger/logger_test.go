package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "scan.log")
	log := Logger()
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []*cloudwatch.PutMetricDataInput
}

func (f *fakePublisher) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestLogMetricPublishesNumericValues(t *testing.T) {
	pub := &fakePublisher{}
	SetMetricsPublisher(pub, "Test")
	defer SetMetricsPublisher(nil, "")

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.LogMetric("scanner", "records_joined", 12, "gauge", Fields{"feed": "bybit"})
	log.LogMetric("scanner", "label", "not-a-number", "", nil)

	if len(pub.calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.calls))
	}
	in := pub.calls[0]
	if *in.Namespace != "Test" || *in.MetricData[0].MetricName != "records_joined" {
		t.Fatalf("unexpected datum: %+v", in)
	}
	if got := *in.MetricData[0].Value; got != 12 {
		t.Fatalf("value = %v", got)
	}

	line := bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0]
	var decoded map[string]interface{}
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if decoded["metric"] != "records_joined" || decoded["component"] != "scanner" || decoded["metric_type"] != "gauge" {
		t.Fatalf("unexpected log line: %v", decoded)
	}
}

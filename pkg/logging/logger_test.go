package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulseboard/pulse/pkg/config"
)

func TestInitLogger(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:      "INFO",
		Format:     "json",
		FlatFormat: true,
	}

	if err := InitLogger(cfg); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	if GetLogger() == nil {
		t.Fatal("Expected a logger after init")
	}
}

func TestFlatEncoder(t *testing.T) {
	var buf bytes.Buffer

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:      "timestamp",
		LevelKey:     "level",
		MessageKey:   "message",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(NewFlatEncoder(encoderConfig), zapcore.AddSync(&buf), zapcore.InfoLevel)
	logger := zap.New(core).With(zap.String("component", "feed"))

	logger.Info("posts loaded",
		zap.Int64("topic_id", 7),
		zap.Bool("cached", true),
		zap.Error(errors.New("boom")),
		Actor(""))

	var logObj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logObj); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	if logObj["message"] != "posts loaded" {
		t.Errorf("Expected message 'posts loaded', got: %v", logObj["message"])
	}
	if logObj["component"] != "feed" {
		t.Errorf("Expected context field 'component'='feed', got: %v", logObj["component"])
	}
	if logObj["topic_id"] != float64(7) {
		t.Errorf("Expected field 'topic_id'=7, got: %v", logObj["topic_id"])
	}
	if logObj["cached"] != true {
		t.Errorf("Expected field 'cached'=true, got: %v", logObj["cached"])
	}
	if logObj["error"] != "boom" {
		t.Errorf("Expected field 'error'='boom', got: %v", logObj["error"])
	}
	if logObj["actor"] != "anonymous" {
		t.Errorf("Expected anonymous actor, got: %v", logObj["actor"])
	}
	if _, ok := logObj["timestamp"]; !ok {
		t.Error("Expected 'timestamp' field in log output")
	}
}

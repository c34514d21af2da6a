package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var flatPool = buffer.NewPool()

// FlatEncoder writes one JSON object per entry with every field at the top level,
// including fields attached through Logger.With.
type FlatEncoder struct {
	*zapcore.MapObjectEncoder
	config zapcore.EncoderConfig
}

// NewFlatEncoder creates a new flat JSON encoder
func NewFlatEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &FlatEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		config:           config,
	}
}

// Clone copies the encoder together with its accumulated context fields
func (e *FlatEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &FlatEncoder{MapObjectEncoder: clone, config: e.config}
}

// EncodeEntry encodes a log entry
func (e *FlatEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	enc := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		enc.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	obj := enc.Fields
	obj[keyOr(e.config.TimeKey, "timestamp")] = entry.Time.UTC().Format(time.RFC3339Nano)
	obj[keyOr(e.config.LevelKey, "level")] = entry.Level.String()
	obj[keyOr(e.config.MessageKey, "message")] = entry.Message
	if entry.LoggerName != "" {
		obj["logger"] = entry.LoggerName
	}
	if entry.Caller.Defined {
		obj["file"] = entry.Caller.TrimmedPath()
		obj["line"] = entry.Caller.Line
		obj["function"] = entry.Caller.Function
	}
	if entry.Stack != "" {
		obj["stack"] = entry.Stack
	}
	for k, v := range obj {
		if err, ok := v.(error); ok {
			obj[k] = err.Error()
		}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	buf := flatPool.Get()
	buf.AppendBytes(raw)
	buf.AppendString(zapcore.DefaultLineEnding)
	return buf, nil
}

func keyOr(key, fallback string) string {
	if key == "" {
		return fallback
	}
	return key
}

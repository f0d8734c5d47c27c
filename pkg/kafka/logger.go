// Copyright 2025, 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kafka

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// slogLogger routes franz-go client logs into slog.
type slogLogger struct {
	logger *slog.Logger
	level  kgo.LogLevel
}

func newSlogLogger(logger *slog.Logger, level kgo.LogLevel) kgo.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger.With("component", "franz-go"), level: level}
}

func (l *slogLogger) Level() kgo.LogLevel { return l.level }

func (l *slogLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	l.logger.Log(context.Background(), slogLevel(level), msg, keyvals...)
}

func slogLevel(level kgo.LogLevel) slog.Level {
	switch level {
	case kgo.LogLevelError:
		return slog.LevelError
	case kgo.LogLevelWarn:
		return slog.LevelWarn
	case kgo.LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// parseLogLevel maps a config string onto a franz-go level. Unknown values
// keep the client quiet except for errors.
func parseLogLevel(raw string) kgo.LogLevel {
	switch raw {
	case "debug":
		return kgo.LogLevelDebug
	case "info":
		return kgo.LogLevelInfo
	case "warn":
		return kgo.LogLevelWarn
	case "none":
		return kgo.LogLevelNone
	default:
		return kgo.LogLevelError
	}
}

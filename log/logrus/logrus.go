package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/chunkstream"
)

var _ chunkstream.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f chunkstream.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f chunkstream.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f chunkstream.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f chunkstream.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f chunkstream.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}

package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger builds a console logger tagged with the app name, writing to w.
func NewLogger(app string, w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	// Color escapes only make sense on a real terminal stream.
	if _, isFile := w.(*os.File); !isFile {
		output.NoColor = true
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}

// InitLogger installs the process-wide logger on stdout and returns it.
func InitLogger(app string) zerolog.Logger {
	logger := NewLogger(app, os.Stdout)
	log.Logger = logger
	return logger
}

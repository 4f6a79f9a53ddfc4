package log

import (
	"os"

	"github.com/rs/zerolog"
)

// Global logger instance.  Other packages attach context fields to
// log.Logger instead of importing zerolog themselves, so the whole
// process shares one sink and one level.
var Logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

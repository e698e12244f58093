package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Logging for the transmit path.
 *
 * Description:	One charmbracelet logger is built at start up and each
 *		component takes a child of it tagged with its name.
 *
 *		Nothing here logs inside the transmit lock.  Counts are
 *		collected while locked and reported after.
 *
 *------------------------------------------------------------------*/

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// NewLogger builds the root logger described by cfg.  A nil w means stderr.
func NewLogger(cfg LogConfig, w io.Writer) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	var level = log.InfoLevel
	if cfg.Level != "" {
		var l, err = log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
		level = l
	}

	var formatter log.Formatter
	switch cfg.Format {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.Format)
	}

	var logger = log.NewWithOptions(w, log.Options{ //nolint:exhaustruct
		Level:           level,
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
		Formatter:       formatter,
	})

	return logger, nil
}

// discardLogger is used when the caller did not supply one.
func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel}) //nolint:exhaustruct
}

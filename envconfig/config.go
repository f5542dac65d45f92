package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/attnmt/attnmt/logutil"
)

var ErrInvalidHostPort = errors.New("invalid port specified in ATTNMT_HOST")

var (
	// Set via ATTNMT_DEBUG in the environment. 1 enables debug logs, 2 adds
	// trace logs.
	Debug int
	// Set via ATTNMT_BEAM in the environment
	Beam int
	// Set via ATTNMT_SIZE_LIMIT in the environment
	SizeLimit int
	// Set via ATTNMT_WORD_PEN in the environment
	WordPen float64
	// Set via ATTNMT_ENSEMBLE_OP in the environment
	EnsembleOp string
	// Set via ATTNMT_NUM_PARALLEL in the environment
	NumParallel int
	// Set via ATTNMT_SEED in the environment. Zero seeds from the clock once
	// per run.
	Seed int64
	// Set via ATTNMT_HOST in the environment
	Host string
	// Set via ATTNMT_ORIGINS in the environment
	AllowOrigins []string
)

var defaultAllowOrigins = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
}

const (
	defaultHost = "127.0.0.1"
	defaultPort = "8686"
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"ATTNMT_DEBUG":        {"ATTNMT_DEBUG", Debug, "Show additional debug information (e.g. ATTNMT_DEBUG=1, or 2 for trace)"},
		"ATTNMT_BEAM":         {"ATTNMT_BEAM", Beam, "Beam width for decoding (default 5)"},
		"ATTNMT_SIZE_LIMIT":   {"ATTNMT_SIZE_LIMIT", SizeLimit, "Maximum generated length (default 2000)"},
		"ATTNMT_WORD_PEN":     {"ATTNMT_WORD_PEN", WordPen, "Score added per generated word (default 0)"},
		"ATTNMT_ENSEMBLE_OP":  {"ATTNMT_ENSEMBLE_OP", EnsembleOp, "Ensemble fusion, sum or logsum (default sum)"},
		"ATTNMT_NUM_PARALLEL": {"ATTNMT_NUM_PARALLEL", NumParallel, "Number of sentences decoded in parallel (default 1)"},
		"ATTNMT_SEED":         {"ATTNMT_SEED", Seed, "Random seed for sampling, 0 seeds from the clock"},
		"ATTNMT_HOST":         {"ATTNMT_HOST", Host, "Address for the attnmt server (default 127.0.0.1:8686)"},
		"ATTNMT_ORIGINS":      {"ATTNMT_ORIGINS", AllowOrigins, "A comma separated list of allowed origins"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	// default values
	Debug = 0
	Beam = 5
	SizeLimit = 2000
	WordPen = 0
	EnsembleOp = "sum"
	NumParallel = 1
	Seed = 0
	Host = net.JoinHostPort(defaultHost, defaultPort)

	if debug := clean("ATTNMT_DEBUG"); debug != "" {
		if d, err := strconv.Atoi(debug); err == nil {
			Debug = d
		} else if b, err := strconv.ParseBool(debug); err == nil {
			if b {
				Debug = 1
			}
		} else {
			Debug = 1
		}
	}

	if beam := clean("ATTNMT_BEAM"); beam != "" {
		val, err := strconv.Atoi(beam)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "ATTNMT_BEAM", beam, "error", err)
		} else {
			Beam = val
		}
	}

	if limit := clean("ATTNMT_SIZE_LIMIT"); limit != "" {
		val, err := strconv.Atoi(limit)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "ATTNMT_SIZE_LIMIT", limit, "error", err)
		} else {
			SizeLimit = val
		}
	}

	if pen := clean("ATTNMT_WORD_PEN"); pen != "" {
		val, err := strconv.ParseFloat(pen, 64)
		if err != nil {
			slog.Error("invalid setting, ignoring", "ATTNMT_WORD_PEN", pen, "error", err)
		} else {
			WordPen = val
		}
	}

	if op := clean("ATTNMT_ENSEMBLE_OP"); op != "" {
		switch op {
		case "sum", "logsum":
			EnsembleOp = op
		default:
			slog.Error("invalid setting must be sum or logsum", "ATTNMT_ENSEMBLE_OP", op)
		}
	}

	if onp := clean("ATTNMT_NUM_PARALLEL"); onp != "" {
		val, err := strconv.Atoi(onp)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "ATTNMT_NUM_PARALLEL", onp, "error", err)
		} else {
			NumParallel = val
		}
	}

	if seed := clean("ATTNMT_SEED"); seed != "" {
		val, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			slog.Error("invalid setting, ignoring", "ATTNMT_SEED", seed, "error", err)
		} else {
			Seed = val
		}
	}

	AllowOrigins = nil
	if origins := clean("ATTNMT_ORIGINS"); origins != "" {
		AllowOrigins = strings.Split(origins, ",")
	}
	for _, allowOrigin := range defaultAllowOrigins {
		AllowOrigins = append(AllowOrigins,
			fmt.Sprintf("http://%s", allowOrigin),
			fmt.Sprintf("https://%s", allowOrigin),
			fmt.Sprintf("http://%s:*", allowOrigin),
			fmt.Sprintf("https://%s:*", allowOrigin),
		)
	}

	if host, err := getHost(); err != nil {
		slog.Error("invalid setting, ignoring", "ATTNMT_HOST", clean("ATTNMT_HOST"), "error", err)
	} else {
		Host = host
	}
}

// getHost returns host:port from ATTNMT_HOST, filling in the default host
// or port when either is missing.
func getHost() (string, error) {
	s := clean("ATTNMT_HOST")
	if s == "" {
		return net.JoinHostPort(defaultHost, defaultPort), nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, port = s, defaultPort
		if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
			host = ip.String()
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		return "", ErrInvalidHostPort
	}

	return net.JoinHostPort(strings.Trim(host, "[]"), port), nil
}

// LogLevel maps Debug to a slog level.
func LogLevel() slog.Level {
	switch {
	case Debug >= 2:
		return logutil.LevelTrace
	case Debug == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	DEBUG = iota
	INFO
	WARNING
	ERROR
)

// ANSI color codes
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"

	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorWhite   = "\033[37m"
	ColorGray    = "\033[90m"
)

var levelNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR"}

var levelColors = [...]string{ColorGray, ColorGreen, ColorYellow + ColorBold, ColorRed + ColorBold}

// component tag -> color, matched by substring so "consensus-stats" gets the consensus color
var componentColors = map[string]string{
	"CONSENSUS": ColorMagenta,
	"EXECUTION": ColorBlue,
	"TRANSPORT": ColorCyan,
	"POLL":      ColorCyan,
	"EVENTS":    ColorGreen,
	"STATS":     ColorBlue,
	"MEMORY":    ColorGray,
	"CONFIG":    ColorWhite,
	"METRICS":   ColorYellow,
	"SYSTEM":    ColorWhite,
	"ERROR":     ColorRed,
}

var (
	mu           sync.RWMutex
	loggers      [4]*log.Logger
	currentLevel = DEBUG
	enableColors = true
)

func init() {
	loggers[DEBUG] = log.New(os.Stdout, "", 0)
	loggers[INFO] = log.New(os.Stdout, "", 0)
	loggers[WARNING] = log.New(os.Stdout, "", 0)
	loggers[ERROR] = log.New(os.Stderr, "", 0)
}

func SetLogLevel(level string) error {
	var lvl int
	switch strings.ToLower(level) {
	case "debug":
		lvl = DEBUG
	case "info":
		lvl = INFO
	case "warning", "warn":
		lvl = WARNING
	case "error":
		lvl = ERROR
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}
	mu.Lock()
	currentLevel = lvl
	mu.Unlock()
	return nil
}

func SetColorsEnabled(enabled bool) {
	mu.Lock()
	enableColors = enabled
	mu.Unlock()
}

func componentColor(component string) string {
	comp := strings.ToUpper(component)
	for category, color := range componentColors {
		if strings.Contains(comp, category) {
			return color
		}
	}
	return ColorGray
}

func write(level int, component, format string, v ...interface{}) {
	mu.RLock()
	if currentLevel > level {
		mu.RUnlock()
		return
	}
	l := loggers[level]
	colors := enableColors
	mu.RUnlock()

	timestamp := time.Now().Format("2006/01/02 15:04:05.000000")
	message := fmt.Sprintf(format, v...)

	levelStr := levelNames[level]
	if colors {
		levelStr = levelColors[level] + levelStr + ColorReset
	}

	componentStr := ""
	if component != "" {
		tag := "[" + strings.ToUpper(component) + "]"
		if colors {
			tag = componentColor(component) + tag + ColorReset
		}
		componentStr = tag + " "
	}

	l.Printf("%s %s %s%s", timestamp, levelStr, componentStr, message)
}

func Error(format string, v ...interface{}) { write(ERROR, "", format, v...) }

// component-aware variants
func DebugComponent(component, format string, v ...interface{}) {
	write(DEBUG, component, format, v...)
}

func InfoComponent(component, format string, v ...interface{}) {
	write(INFO, component, format, v...)
}

func WarningComponent(component, format string, v ...interface{}) {
	write(WARNING, component, format, v...)
}

func ErrorComponent(component, format string, v ...interface{}) {
	write(ERROR, component, format, v...)
}

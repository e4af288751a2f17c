// Package config parses and validates the server's startup parameters
// (spec section 6). No CLI framework (cobra, pflag, viper) appears anywhere
// in the retrieved example corpus, so the standard library flag package is
// the grounded choice here — see DESIGN.md for the justification entry.
package config

import (
	"flag"
	"fmt"
)

// TrigMode selects the (listener ET?, connection ET?) pair per spec
// section 6's four-way enumeration.
type TrigMode int

const (
	TrigLevelLevel TrigMode = iota // 0: (n, n)
	TrigLevelEdge                  // 1: (n, y)
	TrigEdgeLevel                  // 2: (y, n)
	TrigEdgeEdge                   // 3: (y, y)
)

func (t TrigMode) ListenerEdgeTriggered() bool {
	return t == TrigEdgeLevel || t == TrigEdgeEdge
}

func (t TrigMode) ConnEdgeTriggered() bool {
	return t == TrigLevelEdge || t == TrigEdgeEdge
}

// Config holds every startup parameter spec section 6 enumerates.
type Config struct {
	Port      int
	TrigMode  TrigMode
	TimeoutMS int
	OptLinger bool

	SQLPort     int
	SQLUser     string
	SQLPwd      string
	DBName      string
	ConnPoolNum int

	ThreadNum int

	OpenLog    bool
	LogLevel   int
	LogQueSize int

	WatchStatic bool // enrichment flag, see SPEC_FULL.md section 6.5
}

// Parse parses args (typically os.Args[1:]) into a validated Config.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("webd", flag.ContinueOnError)

	c := &Config{}
	var trigMode int
	fs.IntVar(&c.Port, "port", 1316, "TCP listen port, must be in [1024, 65535]")
	fs.IntVar(&trigMode, "trigMode", 3, "0=LT/LT 1=LT/ET 2=ET/LT 3=ET/ET (listener/connection)")
	fs.IntVar(&c.TimeoutMS, "timeoutMS", 60000, "idle timeout in ms; <= 0 disables timers")
	fs.BoolVar(&c.OptLinger, "optLinger", false, "enable SO_LINGER with a 1s linger on close")

	fs.IntVar(&c.SQLPort, "sqlPort", 3306, "DB pool: port")
	fs.StringVar(&c.SQLUser, "sqlUser", "", "DB pool: user")
	fs.StringVar(&c.SQLPwd, "sqlPwd", "", "DB pool: password")
	fs.StringVar(&c.DBName, "dbName", "", "DB pool: database name")
	fs.IntVar(&c.ConnPoolNum, "connPoolNum", 4, "DB pool: pooled connection count")

	fs.IntVar(&c.ThreadNum, "threadNum", 4, "worker pool size")

	fs.BoolVar(&c.OpenLog, "openLog", true, "enable logging")
	fs.IntVar(&c.LogLevel, "logLevel", 1, "0=debug 1=info 2=warn 3=error")
	fs.IntVar(&c.LogQueSize, "logQueSize", 1024, "async log queue capacity")

	fs.BoolVar(&c.WatchStatic, "watchStatic", false, "watch the static root with fsnotify and log file changes")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.TrigMode = TrigMode(trigMode)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range [1024, 65535]", c.Port)
	}
	if c.TrigMode < TrigLevelLevel || c.TrigMode > TrigEdgeEdge {
		return fmt.Errorf("config: trigMode %d out of range [0, 3]", c.TrigMode)
	}
	if c.ThreadNum <= 0 {
		return fmt.Errorf("config: threadNum must be positive, got %d", c.ThreadNum)
	}
	if c.ConnPoolNum <= 0 {
		return fmt.Errorf("config: connPoolNum must be positive, got %d", c.ConnPoolNum)
	}
	if c.LogLevel < 0 || c.LogLevel > 3 {
		return fmt.Errorf("config: logLevel %d out of range [0, 3]", c.LogLevel)
	}
	return nil
}

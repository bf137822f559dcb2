package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"speed-governor-service/rtde"
	"speed-governor-service/sensor"
	"speed-governor-service/speed"
)

var (
	version      = flag.Bool("version", false, "Print version info")
	help         = flag.Bool("help", false, "Print help")
	logLevel     = flag.Int("log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	redisServer  = flag.String("redis_server", "127.0.0.1", "Redis server address")
	redisPort    = flag.Int("redis_port", 6379, "Redis server port")
	robotHost    = flag.String("robot_host", "10.4.1.87", "Robot controller address")
	robotPort    = flag.Int("robot_port", rtde.DefaultControllerPort, "Robot controller data exchange port")
	udpHost      = flag.String("udp_host", sensor.DefaultListenHost, "Distance feed listen address")
	udpPort      = flag.Int("udp_port", sensor.DefaultListenPort, "Distance feed listen port")
	recipePath   = flag.String("recipe", "recipe.xml", "Data exchange recipe file")
	policyName   = flag.String("policy", "smoothing", "Speed policy (reactive or smoothing)")
	tierSpec     = flag.String("tiers", speed.DefaultTierSpec, "Distance tiers as lower:fraction,...")
	minTimesLow  = flag.Int("min_times_low", 2, "Consecutive lower readings before slowing down")
	minTimesHigh = flag.Int("min_times_high", 5, "Consecutive higher readings before speeding up")
	frequency    = flag.Float64("frequency", 100, "Control cycle frequency in Hz")
	feedTimeout  = flag.Duration("feed_timeout", 2*time.Second, "Distance feed staleness bound")
)

const (
	ProjectName    = "speed-governor"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

// applyEnvDefaults fills flags the command line left untouched from the
// environment, so ROBOT_HOST=... and a .env file both work
func applyEnvDefaults() {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	flag.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		if v, ok := os.LookupEnv(strings.ToUpper(f.Name)); ok {
			if err := f.Value.Set(v); err != nil {
				log.Fatalf("invalid value %q for %s: %v", v, strings.ToUpper(f.Name), err)
			}
		}
	})
}

func main() {
	// A missing .env file is the normal case
	_ = godotenv.Load()

	flag.Parse()
	applyEnvDefaults()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	// Validate log level
	if *logLevel < 0 || *logLevel > 4 {
		log.Fatalf("invalid log level %d", *logLevel)
	}

	// Parse policy type
	var policyType speed.PolicyType
	switch *policyName {
	case "reactive":
		policyType = speed.PolicyTypeReactive
		log.Printf("Selected speed policy: reactive")
	case "smoothing":
		policyType = speed.PolicyTypeSmoothing
		log.Printf("Selected speed policy: smoothing")
	default:
		log.Fatalf("invalid policy: %s (must be 'reactive' or 'smoothing')", *policyName)
	}

	// The exchange protocol caps the output rate at 125 Hz
	if *frequency <= 0 || *frequency > 125 {
		log.Fatalf("invalid frequency %.1f Hz (must be in (0, 125])", *frequency)
	}

	if *feedTimeout <= 0 {
		log.Fatalf("invalid feed timeout %v", *feedTimeout)
	}

	opts := &Options{
		LogLevel:        LogLevel(*logLevel),
		RedisServerAddr: *redisServer,
		RedisServerPort: uint16(*redisPort),
		RobotHost:       *robotHost,
		RobotPort:       uint16(*robotPort),
		UDPHost:         *udpHost,
		UDPPort:         uint16(*udpPort),
		RecipePath:      *recipePath,
		PolicyType:      policyType,
		TierSpec:        *tierSpec,
		MinTimesLow:     *minTimesLow,
		MinTimesHigh:    *minTimesHigh,
		Frequency:       *frequency,
		FeedTimeout:     *feedTimeout,
	}

	app, err := NewGovernorApp(opts)
	if err != nil {
		log.Fatalf("failed to create governor app: %v", err)
	}
	defer app.Destroy()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run until signal received
	<-sigChan
}

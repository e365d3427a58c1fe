package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ConfigStruct struct {
	TCPHost        string
	TCPPort        int
	MaxClients     int
	HandshakeToken string
	Greeting       string
	JWTSecret      string

	WorkerMode    string
	WorkerBinary  string
	ControlDir    string
	UDPPortMin    int
	UDPPortMax    int
	SharedUDPPort int
	ReadyTimeout  time.Duration

	TickInterval     time.Duration
	SnapshotInterval time.Duration
	MaxInputsPerSec  int
	MaxShootsPerSec  int

	AcceptRate  float64
	AcceptBurst int

	StatusAddr string

	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	MongoURI string
	MongoDB  string

	LogLevel  string
	LogFormat string
}

// Config is populated from the environment (and .env, when present) at startup.
var Config *ConfigStruct

func init() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found or could not be loaded")
	}
	Config = Load()
}

// Load reads every setting from the current environment, falling back to defaults.
func Load() *ConfigStruct {
	return &ConfigStruct{
		TCPHost:        os.Getenv("TCP_HOST"),
		TCPPort:        toInt("TCP_PORT", 4243),
		MaxClients:     toInt("MAX_CLIENTS", 4),
		HandshakeToken: toString("HANDSHAKE_TOKEN", "toto"),
		Greeting:       toString("GREETING", "R-Type Server"),
		JWTSecret:      os.Getenv("JWT_SECRET"),

		WorkerMode:    strings.ToLower(toString("WORKER_MODE", "process")),
		WorkerBinary:  os.Getenv("WORKER_BINARY"),
		ControlDir:    toString("CONTROL_DIR", os.TempDir()),
		UDPPortMin:    toInt("UDP_PORT_MIN", 50000),
		UDPPortMax:    toInt("UDP_PORT_MAX", 64999),
		SharedUDPPort: toInt("SHARED_UDP_PORT", 4243),
		ReadyTimeout:  toDuration("READY_TIMEOUT", 5*time.Second),

		TickInterval:     toDuration("TICK_INTERVAL", 32*time.Millisecond),
		SnapshotInterval: toDuration("SNAPSHOT_INTERVAL", 50*time.Millisecond),
		MaxInputsPerSec:  toInt("MAX_INPUTS_PER_SEC", 30),
		MaxShootsPerSec:  toInt("MAX_SHOOTS_PER_SEC", 10),

		AcceptRate:  toFloat("ACCEPT_RATE", 5),
		AcceptBurst: toInt("ACCEPT_BURST", 10),

		StatusAddr: toString("STATUS_ADDR", ":8080"),

		MySQLHost:     os.Getenv("MYSQL_HOST"),
		MySQLPort:     toInt("MYSQL_PORT", 3306),
		MySQLUser:     os.Getenv("MYSQL_USER"),
		MySQLPassword: os.Getenv("MYSQL_PASSWORD"),
		MySQLDatabase: os.Getenv("MYSQL_DATABASE"),

		MongoURI: os.Getenv("MONGO_URI"),
		MongoDB:  toString("MONGO_DB", "arcade"),

		LogLevel:  toString("LOG_LEVEL", "info"),
		LogFormat: toString("LOG_FORMAT", "console"),
	}
}

func toString(envVar, defaultVal string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultVal
}

func toInt(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Printf("Invalid value for %s: %v\n", envVar, err)
		return defaultVal
	}
	return val
}

func toFloat(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %v\n", envVar, err)
		return defaultVal
	}
	return val
}

// toDuration accepts Go duration strings ("32ms") or a bare number of milliseconds.
func toDuration(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Invalid value for %s: %v\n", envVar, err)
		return defaultVal
	}
	return val
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values
type Config struct {
	// Server configuration
	Port        int    `json:"port"`
	Environment string `json:"environment"`

	// MongoDB configuration
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	// Redis configuration
	RedisURI      string `json:"redis_uri"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// Collection names
	PatientCollection      string `json:"mongo_patient_collection"`
	DoctorCollection       string `json:"mongo_doctor_collection"`
	ConsultationCollection string `json:"mongo_consultation_collection"`
	PrescriptionCollection string `json:"mongo_prescription_collection"`
	AuditLogsCollection    string `json:"mongo_audit_logs_collection"`

	// OTP service configuration
	OTPBaseURL         string        `json:"otp_base_url"`
	OTPUsername        string        `json:"otp_username"`
	OTPPassword        string        `json:"otp_password"`
	OTPIdentitySecret  string        `json:"-"`
	OTPRequestTimeout  time.Duration `json:"otp_request_timeout"`
	OTPResendCooldown  time.Duration `json:"otp_resend_cooldown"`
	DefaultCountryCode string        `json:"default_country_code"`

	// Session configuration
	SessionIdleTTL time.Duration `json:"session_idle_ttl"`

	// Tracing configuration
	TracingEnabled     bool    `json:"tracing_enabled"`
	TracingEndpoint    string  `json:"tracing_endpoint"`
	TracingSampleRatio float64 `json:"tracing_sample_ratio"`

	// Audit configuration
	AuditWorkers    int `json:"audit_workers"`
	AuditBufferSize int `json:"audit_buffer_size"`

	// Fixture loaded into the record store on startup, if set
	SeedFixture string `json:"seed_fixture"`
}

var (
	AppConfig *Config
)

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory, when present, is loaded first without overriding
// variables that are already set.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	port, err := getEnvAsIntOrDefault("PORT", 8080)
	if err != nil {
		return err
	}

	redisDB, err := getEnvAsIntOrDefault("REDIS_DB", 0)
	if err != nil {
		return err
	}

	otpBaseURL := os.Getenv("OTP_BASE_URL")
	if otpBaseURL == "" {
		return fmt.Errorf("OTP_BASE_URL environment variable is required")
	}

	identitySecret := os.Getenv("OTP_IDENTITY_SECRET")
	if identitySecret == "" {
		return fmt.Errorf("OTP_IDENTITY_SECRET environment variable is required")
	}

	requestTimeout, err := getEnvAsDurationOrDefault("OTP_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return err
	}

	cooldown, err := getEnvAsDurationOrDefault("OTP_RESEND_COOLDOWN", 60*time.Second)
	if err != nil {
		return err
	}
	if cooldown < time.Second {
		return fmt.Errorf("invalid OTP_RESEND_COOLDOWN: must be at least 1s, got %s", cooldown)
	}

	sessionTTL, err := getEnvAsDurationOrDefault("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return err
	}

	auditWorkers, err := getEnvAsIntOrDefault("AUDIT_WORKERS", 2)
	if err != nil {
		return err
	}

	auditBuffer, err := getEnvAsIntOrDefault("AUDIT_BUFFER_SIZE", 1000)
	if err != nil {
		return err
	}

	sampleRatio := 1.0
	if value := os.Getenv("TRACING_SAMPLE_RATIO"); value != "" {
		sampleRatio, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid TRACING_SAMPLE_RATIO: %w", err)
		}
		if sampleRatio < 0 || sampleRatio > 1 {
			return fmt.Errorf("invalid TRACING_SAMPLE_RATIO: must be between 0 and 1, got %g", sampleRatio)
		}
	}

	AppConfig = &Config{
		// Server configuration
		Port:        port,
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		// MongoDB configuration
		MongoURI:      getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnvOrDefault("MONGODB_DATABASE", "medrec"),

		// Redis configuration
		RedisURI:      getEnvOrDefault("REDIS_URI", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		// Collection names
		PatientCollection:      getEnvOrDefault("MONGODB_PATIENT_COLLECTION", "patients"),
		DoctorCollection:       getEnvOrDefault("MONGODB_DOCTOR_COLLECTION", "doctors"),
		ConsultationCollection: getEnvOrDefault("MONGODB_CONSULTATION_COLLECTION", "consultations"),
		PrescriptionCollection: getEnvOrDefault("MONGODB_PRESCRIPTION_COLLECTION", "prescriptions"),
		AuditLogsCollection:    getEnvOrDefault("MONGODB_AUDIT_COLLECTION", "audit_logs"),

		// OTP service configuration
		OTPBaseURL:         otpBaseURL,
		OTPUsername:        getEnvOrDefault("OTP_USERNAME", ""),
		OTPPassword:        getEnvOrDefault("OTP_PASSWORD", ""),
		OTPIdentitySecret:  identitySecret,
		OTPRequestTimeout:  requestTimeout,
		OTPResendCooldown:  cooldown,
		DefaultCountryCode: getEnvOrDefault("OTP_DEFAULT_COUNTRY_CODE", "225"),

		SessionIdleTTL: sessionTTL,

		TracingEnabled:     getEnvOrDefault("TRACING_ENABLED", "false") == "true",
		TracingEndpoint:    getEnvOrDefault("TRACING_ENDPOINT", "localhost:4317"),
		TracingSampleRatio: sampleRatio,

		AuditWorkers:    auditWorkers,
		AuditBufferSize: auditBuffer,

		SeedFixture: os.Getenv("SEED_FIXTURE"),
	}

	return nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Session   SessionConfig
	Ink       InkConfig
	Presence  PresenceConfig
	Archive   ArchiveConfig
	S3        S3Config
	Redis     RedisConfig

	// EnvFileLoaded .env 파일을 읽었는지 여부
	EnvFileLoaded bool
}

// RedisConfig Redis 설정 (Addr 가 비어 있으면 사용 안 함)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// S3Config AWS S3 설정
type S3Config struct {
	Region          string
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
}

// AuthConfig 익명 참여자 토큰 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	SecureCookie      bool
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
	LogLevel     string
}

func (c ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	SendQueueSize   int
	MaxBatchSize    int
	MaxMessageBytes int
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// SessionConfig 세션 초기화 주기
type SessionConfig struct {
	ResetInterval time.Duration
	CheckInterval time.Duration
	Timezone      string
}

// InkConfig 잉크 풀 기본값 (참여자 클라이언트가 사용)
type InkConfig struct {
	Max           float64
	RegenRate     float64
	RegenInterval time.Duration
	LowThreshold  float64
}

// PresenceConfig 커서 만료 시간 (참여자 클라이언트 측)
type PresenceConfig struct {
	StaleAfter time.Duration
}

// ArchiveConfig 아카이브 싱크 선택
type ArchiveConfig struct {
	Sinks        []string
	Dir          string
	WriteTimeout time.Duration
	S3Prefix     string
}

// 지원하는 아카이브 싱크
const (
	SinkFile = "file"
	SinkDB   = "db"
	SinkS3   = "s3"
)

// Load 환경 변수에서 설정 로드
func Load() (*Config, error) {
	// .env 파일 로드 (없어도 에러 무시)
	envLoaded := godotenv.Load() == nil

	jwtSecret, err := getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		EnvFileLoaded: envLoaded,
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			SendQueueSize:   getInt("WS_SEND_QUEUE_SIZE", 256),
			MaxBatchSize:    getInt("WS_MAX_BATCH_SIZE", 1000),
			MaxMessageBytes: getInt("WS_MAX_MESSAGE_BYTES", 1<<20),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 30*24*time.Hour),
			SecureCookie:      getBool("SECURE_COOKIE", false),
		},
		Session: SessionConfig{
			ResetInterval: getDuration("SESSION_RESET_INTERVAL", 24*time.Hour),
			CheckInterval: getDuration("SESSION_CHECK_INTERVAL", 60*time.Second),
			Timezone:      getEnv("SESSION_TIMEZONE", "Local"),
		},
		Ink: InkConfig{
			Max:           getFloat("INK_MAX", 12000),
			RegenRate:     getFloat("INK_REGEN_RATE", 0.05),
			RegenInterval: getDuration("INK_REGEN_INTERVAL", 3*time.Second),
			LowThreshold:  getFloat("INK_LOW_THRESHOLD", 0.2),
		},
		Presence: PresenceConfig{
			StaleAfter: getDuration("PRESENCE_STALE_AFTER", 8*time.Second),
		},
		Archive: ArchiveConfig{
			Sinks:        getList("ARCHIVE_SINKS", []string{SinkFile}),
			Dir:          getEnv("ARCHIVE_DIR", "./archives"),
			WriteTimeout: getDuration("ARCHIVE_WRITE_TIMEOUT", 30*time.Second),
			S3Prefix:     getEnv("ARCHIVE_S3_PREFIX", "archives/"),
		},
		S3: S3Config{
			Region:          getEnv("AWS_REGION", "ap-northeast-2"),
			BucketName:      getEnv("AWS_S3_BUCKET", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 값 범위 검증
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "change-this-secret-in-production" && c.Server.IsProduction() {
		errs = append(errs, errors.New("JWT_SECRET must be changed from default value in production"))
	}
	if c.Session.ResetInterval <= 0 {
		errs = append(errs, errors.New("SESSION_RESET_INTERVAL must be positive"))
	}
	if c.Session.CheckInterval <= 0 {
		errs = append(errs, errors.New("SESSION_CHECK_INTERVAL must be positive"))
	}
	if _, err := c.Session.Location(); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_TIMEZONE: %w", err))
	}
	if c.Ink.Max <= 0 {
		errs = append(errs, errors.New("INK_MAX must be positive"))
	}
	if c.Ink.RegenRate <= 0 || c.Ink.RegenRate > 1 {
		errs = append(errs, errors.New("INK_REGEN_RATE must be in (0, 1]"))
	}
	if c.Ink.RegenInterval <= 0 {
		errs = append(errs, errors.New("INK_REGEN_INTERVAL must be positive"))
	}
	if c.WebSocket.SendQueueSize <= 0 {
		errs = append(errs, errors.New("WS_SEND_QUEUE_SIZE must be positive"))
	}
	if c.WebSocket.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("WS_MAX_BATCH_SIZE must be positive"))
	}
	for _, s := range c.Archive.Sinks {
		switch s {
		case SinkFile, SinkDB:
		case SinkS3:
			if c.S3.BucketName == "" {
				errs = append(errs, errors.New("ARCHIVE_SINKS includes s3 but AWS_S3_BUCKET is empty"))
			}
		default:
			errs = append(errs, fmt.Errorf("ARCHIVE_SINKS: unknown sink %q", s))
		}
	}
	return errors.Join(errs...)
}

// HasSink 아카이브 싱크 사용 여부
func (c ArchiveConfig) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Location 세션 달력 기준 시간대
func (c SessionConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// getRequiredEnv 필수 환경 변수 조회
func getRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getList 콤마 구분 목록
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

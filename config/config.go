package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DatabaseName      string `mapstructure:"DATABASE_NAME"`
	Env               string `mapstructure:"ENV"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Audit trail sink. Empty brokers keeps the audit trail in the zap log only.
	AuditKafkaBrokers string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	AuditKafkaTopic   string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// M-Pesa (Daraja) gateway.
	MpesaBaseURL          string        `mapstructure:"MPESA_BASE_URL"`
	MpesaConsumerKey      string        `mapstructure:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret   string        `mapstructure:"MPESA_CONSUMER_SECRET"`
	MpesaShortcode        string        `mapstructure:"MPESA_SHORTCODE"`
	MpesaPasskey          string        `mapstructure:"MPESA_PASSKEY"`
	MpesaSTKPushURL       string        `mapstructure:"MPESA_STK_PUSH_URL"`
	MpesaCallbackURL      string        `mapstructure:"MPESA_CALLBACK_URL"`
	MpesaTransactionType  string        `mapstructure:"MPESA_TRANSACTION_TYPE"`
	MpesaAccountReference string        `mapstructure:"MPESA_ACCOUNT_REFERENCE"`
	MpesaTransactionDesc  string        `mapstructure:"MPESA_TRANSACTION_DESC"`
	MpesaTokenMaxAttempts int           `mapstructure:"MPESA_TOKEN_MAX_ATTEMPTS"`
	MpesaRequestTimeout   time.Duration `mapstructure:"MPESA_REQUEST_TIMEOUT"`
	MpesaTokenCache       bool          `mapstructure:"MPESA_TOKEN_CACHE"`

	// Reconciliation sweep.
	PaymentPendingTimeout time.Duration `mapstructure:"PAYMENT_PENDING_TIMEOUT"`
	PaymentSweepInterval  time.Duration `mapstructure:"PAYMENT_SWEEP_INTERVAL"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "nutrify")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("AUDIT_KAFKA_BROKERS", "")
	viper.SetDefault("AUDIT_KAFKA_TOPIC", "payments.audit")

	viper.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("MPESA_CONSUMER_KEY", "")
	viper.SetDefault("MPESA_CONSUMER_SECRET", "")
	viper.SetDefault("MPESA_SHORTCODE", "")
	viper.SetDefault("MPESA_PASSKEY", "")
	viper.SetDefault("MPESA_STK_PUSH_URL", "https://sandbox.safaricom.co.ke/mpesa/stkpush/v1/processrequest")
	viper.SetDefault("MPESA_CALLBACK_URL", "")
	viper.SetDefault("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline")
	viper.SetDefault("MPESA_ACCOUNT_REFERENCE", "Nutrify")
	viper.SetDefault("MPESA_TRANSACTION_DESC", "Nutrition consultation booking")
	viper.SetDefault("MPESA_TOKEN_MAX_ATTEMPTS", 3)
	viper.SetDefault("MPESA_REQUEST_TIMEOUT", "30s")
	viper.SetDefault("MPESA_TOKEN_CACHE", true)

	viper.SetDefault("PAYMENT_PENDING_TIMEOUT", "2m")
	viper.SetDefault("PAYMENT_SWEEP_INTERVAL", "1m")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// KafkaBrokers splits the comma separated AUDIT_KAFKA_BROKERS value.
func (c Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.AuditKafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Mpesa projects the gateway settings into the value handed to the payment subsystem.
func (c Config) Mpesa() MpesaConfig {
	return MpesaConfig{
		BaseURL:          c.MpesaBaseURL,
		ConsumerKey:      c.MpesaConsumerKey,
		ConsumerSecret:   c.MpesaConsumerSecret,
		Shortcode:        c.MpesaShortcode,
		Passkey:          c.MpesaPasskey,
		STKPushURL:       c.MpesaSTKPushURL,
		CallbackURL:      c.MpesaCallbackURL,
		TransactionType:  c.MpesaTransactionType,
		AccountReference: c.MpesaAccountReference,
		TransactionDesc:  c.MpesaTransactionDesc,
		TokenMaxAttempts: c.MpesaTokenMaxAttempts,
		RequestTimeout:   c.MpesaRequestTimeout,
	}
}

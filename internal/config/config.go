package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Whop struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		BaseURL       string `mapstructure:"baseUrl"`
	} `mapstructure:"whop"`
	OpenAI struct {
		APIKey  string `mapstructure:"apiKey"`
		Model   string `mapstructure:"model"`
		BaseURL string `mapstructure:"baseUrl"`
	} `mapstructure:"openai"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env может отсутствовать - это не ошибка
		_ = godotenv.Load()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)

	viper.AutomaticEnv() // Чтение переменных окружения

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("whop.baseUrl", "https://api.whop.com/api/v2")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.baseUrl", "https://api.openai.com/v1")
	viper.SetDefault("kafka.topic", "entitlement_events")

	if err := viper.ReadInConfig(); err != nil {
		// Конфиг-файл опционален: всё можно задать окружением
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

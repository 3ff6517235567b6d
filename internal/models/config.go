package models

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Env        string `yaml:"env"`
	ServerAddr string `yaml:"server_addr"`

	DatabaseURL string `yaml:"database_url"`

	KafkaBroker       string `yaml:"kafka_broker"`
	KafkaTopic        string `yaml:"kafka_topic"`
	KafkaGroupID      string `yaml:"kafka_group_id"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`

	StoragePath   string `yaml:"storage_path"`
	PublicBaseURL string `yaml:"public_base_url"`

	MLServiceURL        string  `yaml:"ml_service_url"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	WhatsAppAPIURL        string `yaml:"whatsapp_api_url"`
	WhatsAppToken         string `yaml:"whatsapp_token"`
	WhatsAppPhoneNumberID string `yaml:"whatsapp_phone_number_id"`
	WebhookVerifyToken    string `yaml:"webhook_verify_token"`
	MockWhatsApp          bool   `yaml:"mock_whatsapp"`

	JWTSecret string `yaml:"jwt_secret"`
}

func LoadConfig(path string) (*Config, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		path = envPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":4000"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "image-analysis"
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = "analysis-worker-group"
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 5
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.65
	}
	if c.WhatsAppAPIURL == "" {
		c.WhatsAppAPIURL = "https://graph.facebook.com/v18.0"
	}
}

package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Outbound OutboundConfig `mapstructure:"outbound" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains authentication settings. APIKeyHash is the bcrypt
// hash of the API key clients exchange for a session token; generate one
// with cmd/keygen.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	APIKeyHash           string `mapstructure:"api_key_hash" validate:"required"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ChatModel    string `mapstructure:"chat_model" validate:"required"`
	TitleModel   string `mapstructure:"title_model" validate:"required"`
	ImageModel   string `mapstructure:"image_model"`
}

// OutboundConfig tunes the outbound task queue.
type OutboundConfig struct {
	MaxParallel            int  `mapstructure:"max_parallel" validate:"required,gt=0"`
	UploadTimeoutSeconds   int  `mapstructure:"upload_timeout_seconds" validate:"required,gt=0"`
	EnableConversationPush bool `mapstructure:"enable_conversation_push"`
}

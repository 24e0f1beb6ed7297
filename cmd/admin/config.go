package main

import (
	"github.com/joho/godotenv"

	"heartbeat-backend/internal/infra/config"
)

// loadConfig подхватывает .env и читает конфиг без завершения процесса.
func loadConfig() (config.AppConfig, error) {
	_ = godotenv.Load()
	return config.Parse()
}

// Package config loads typed configuration from environment variables.
//
// Structs are annotated with github.com/caarlos0/env/v11 tags and parsed by
// Load, which also reads an optional .env file through github.com/joho/godotenv.
// Each struct type is parsed once per process and cached; ResetCache clears
// the cache in tests. Types implementing Validator are checked after parsing
// and rejected with ErrInvalidConfig.
//
//	var cfg billing.Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
package config

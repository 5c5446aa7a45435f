package env

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	AWSRegion        = "AWS_REGION"
	AWSID            = "AWS_ID"
	AWSSecret        = "AWS_SECRET"
	AWSToken         = "AWS_TOKEN"
	DynamoDBEndpoint = "DYNAMODB_ENDPOINT"

	BusRedisURL  = "BUS_REDIS_URL"
	BusRedisPass = "BUS_REDIS_PASS"

	AgentSecretKey = "AGENT_SECRET"

	PlatformGraphURL    = "PLATFORM_GRAPH_URL"
	PlatformVerifyToken = "PLATFORM_VERIFY_TOKEN"
	PlatformAppSecret   = "PLATFORM_APP_SECRET"

	WebUrl = "WEB_URL"
)

// Load reads a .env file when present. A missing file is not an error so
// deployed environments can rely purely on real environment variables.
func Load() {
	_ = godotenv.Load()
}

// Require panics when any of the given keys is unset. Called once from main,
// never from package init, so tests can import packages without a full
// environment.
func Require(keys ...string) {
	for _, key := range keys {
		if os.Getenv(key) == "" {
			panic("env: required environment variable not set: " + key)
		}
	}
}

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}

package utils

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	secretsOnce sync.Once
	secrets     map[string]string
)

// LoadEnv loads .env for the given environment. `.env.production` wins over
// plain `.env` when APP_ENV=production, mirroring typical dotenv layering.
func LoadEnv(env string) error {
	if env != "" {
		if err := godotenv.Load(".env." + strings.ToLower(env)); err == nil {
			return nil
		}
	}
	return godotenv.Load()
}

// loadSecrets reads secrets.json once. The file is the last-resort source
// for keys that are absent from both the process env and the .env file.
func loadSecrets() {
	secretsOnce.Do(func() {
		secrets = map[string]string{}
		path := os.Getenv("SECRETS_FILE")
		if path == "" {
			path = "secrets.json"
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				secrets[k] = val
			default:
				secrets[k] = fmt.Sprintf("%v", val)
			}
		}
	})
}

// GetEnv resolves key as env -> .env (already merged into the env) -> secrets.json.
func GetEnv(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	loadSecrets()
	return secrets[key]
}

// GetIntEnv 获取整型环境变量，解析失败返回0
func GetIntEnv(key string) int64 {
	v := GetEnv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// GetBoolEnv 获取布尔环境变量
func GetBoolEnv(key string) bool {
	v := strings.ToLower(GetEnv(key))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

const randChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandText returns a random alphanumeric string of length n.
func RandText(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	max := big.NewInt(int64(len(randChars)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			sb.WriteByte(randChars[i%len(randChars)])
			continue
		}
		sb.WriteByte(randChars[idx.Int64()])
	}
	return sb.String()
}

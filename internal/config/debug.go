package config

import "os"

func IsDebug() bool {
	return os.Getenv("MEMGATE_DEBUG") == "1"
}

package announce

import "go.uber.org/zap"

type Config struct {
	Logger *zap.Logger

	// NumWant is the number of peers asked for. -1 leaves it to the tracker.
	NumWant int32
}

func DefaultConfig() Config {
	return Config{
		Logger:  zap.NewNop(),
		NumWant: -1,
	}
}

package predlog

import "fmt"

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Path          string // file backend log, or memory snapshot
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresConn  string
}

// Open creates the configured store.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(opts.Path)
	case BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("file backend needs a path")
		}
		return NewFileStore(opts.Path)
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case BackendPostgres:
		return NewPostgresStore(opts.PostgresConn)
	default:
		return nil, fmt.Errorf("unknown prediction log backend %q", opts.Backend)
	}
}

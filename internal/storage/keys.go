package storage

// Keys of the persisted credential entries
const (
	KeyAccessToken  = "@impostr_token"
	KeyRefreshToken = "@impostr_refresh_token"
	KeyUser         = "@impostr_user"
)

// CredentialKeys lists every key removed by a full credential clear
var CredentialKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// Backend names accepted by configuration
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

package errs

const (
	ServerInternalError = 500

	ArgsError           = 1001
	NoPermissionError   = 1002
	RecordNotFoundError = 1004
	DuplicateKeyError   = 1005

	UserLockedError = 1301

	TokenExpiredError = 1501
	TokenInvalidError = 1502
	TokenMissingError = 1503
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrNoPermission   = NewCodeError(NoPermissionError, "NoPermissionError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrDuplicateKey   = NewCodeError(DuplicateKeyError, "DuplicateKeyError")
	ErrUserLocked     = NewCodeError(UserLockedError, "UserLockedError")
	ErrTokenExpired   = NewCodeError(TokenExpiredError, "TokenExpiredError")
	ErrTokenInvalid   = NewCodeError(TokenInvalidError, "TokenInvalidError")
	ErrTokenMissing   = NewCodeError(TokenMissingError, "TokenMissingError")
)

func init() {
	// token 相关错误都归到 invalid 下
	_ = DefaultCodeRelation.Add(TokenInvalidError, TokenExpiredError)
}

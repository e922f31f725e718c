package database

// Table 每个 store 声明自己读写的表
type Table interface {
	GetTableName() string
}

const (
	TableUsers          = "users"
	TableUserLocks      = "user_locks"
	TableConversations  = "conversations"
	TableMessages       = "messages"
	TableFriendRequests = "friend_requests"
)

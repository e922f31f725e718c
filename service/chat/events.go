package chat

// 下行事件
const (
	EventConnected                = "connected"
	EventForceLogout              = "force_logout"
	EventGlobalForceLogout        = "global_force_logout"
	EventNewMessage               = "new_message"
	EventMessageReadReceipt       = "message_read_receipt"
	EventUnreadCountUpdate        = "unread_count_update"
	EventFriendRequest            = "friend_request"
	EventFriendRequestCountUpdate = "friend_request_count_update"
	EventFriendRequestAccepted    = "friend_request_accepted"
	EventHeartbeatAck             = "heartbeat_ack"
	EventError                    = "error"
)

// 上行事件
const (
	EventHeartbeat    = "heartbeat"
	EventStatusUpdate = "status_update"
)

type ForceLogoutPayload struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type GlobalForceLogoutPayload struct {
	TargetUserID int64  `json:"target_user_id"`
	Reason       string `json:"reason"`
	Timestamp    int64  `json:"timestamp"`
}

type ConnectedPayload struct {
	ConnID              string `json:"conn_id"`
	UserID              int64  `json:"user_id"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms"`
	ServerTime          int64  `json:"server_time"`
}

type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

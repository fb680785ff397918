package record

import "time"

// Action names a messaging usage event.
type Action string

const (
	ActionLogin         Action = "login"
	ActionLoginSucceed  Action = "user_login_succ"
	ActionLoginFail     Action = "user_login_fail"
	ActionLogout        Action = "user_logout"
	ActionMessage       Action = "msg"
	ActionDeliver       Action = "dlvr"
	ActionMessageSent   Action = "msg_sent"
	ActionMessageRecv   Action = "msg_recv"
	ActionMessageRead   Action = "msg_read"
	ActionMessageDelete Action = "msg_del"
	ActionThreadDelete  Action = "msg_delthread"
	ActionReadGC        Action = "msg_read_gc"
	ActionMessageAck    Action = "msg_ack"
	ActionMessageSync   Action = "msg_sync"
	ActionGroupMessage  Action = "group_msg"
	ActionGroupRecv     Action = "group_recv"
	ActionShutdown      Action = "shutdown"
)

// Well-known categories.
const (
	CategoryUsage     = "usage"
	CategoryPerf      = "perf"
	CategoryError     = "error"
	CategoryProfiling = "profiling"
	CategoryTrace     = "trace"
)

// UsageFields is the number of positional fields in a usage record.
const UsageFields = 16

// Usage is a messaging usage record. Zero fields are written empty.
type Usage struct {
	Host        string
	Action      Action
	From        string
	To          string
	MsgID       string
	MsgType     string
	FromIP      string
	Time        time.Time
	Chid        int64
	ClientIP    string
	FrontendIP  string
	AppID       string
	PackageName string
	OS          string
	Model       string
	SDKVersion  string
}

// String renders u as a 16-field record. An empty Host is replaced by
// LocalHost and a zero Time by the current time.
func (u Usage) String() string {
	host := u.Host
	if host == "" {
		host = LocalHost()
	}
	ts := u.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	// fields are set in order so Build cannot fail
	s, _ := NewBuilder(UsageFields).
		Set(1, host).
		Set(2, string(u.Action)).
		Set(3, u.From).
		Set(4, u.To).
		Set(5, u.MsgID).
		Set(6, u.MsgType).
		Set(7, u.FromIP).
		SetTime(8, ts).
		SetInt(9, u.Chid).
		Set(10, u.ClientIP).
		Set(11, u.FrontendIP).
		Set(12, u.AppID).
		Set(13, u.PackageName).
		Set(14, u.OS).
		Set(15, u.Model).
		Set(16, u.SDKVersion).
		Build()
	return s
}

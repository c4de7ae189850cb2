package sessions

// QueryStatus is the lifecycle state of one execution plan within a session.
// The only transition is RUNNING to KILLING, and only the server side writes
// KILLING; clients merely echo it back on their next heartbeat.
type QueryStatus string

const (
	QueryStatusRunning QueryStatus = "RUNNING"
	QueryStatusKilling QueryStatus = "KILLING"
)

// QueryDesc describes one execution plan within a session.
type QueryDesc struct {
	Status QueryStatus `json:"status"`
}

// Session is the server-side record of one client query connection.
//
// SessionID is the microsecond wall-clock timestamp at creation and doubles
// as CreateTime. UpdateTime moves forward with each accepted heartbeat and
// arbitrates staleness between the stored record and client snapshots.
type Session struct {
	SessionID  int64  `json:"session_id"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
	UserName   string `json:"user_name"`
	GraphAddr  string `json:"graph_addr"`
	ClientIP   string `json:"client_ip"`

	// Queries maps execution plan id to its status. Plan ids are unique
	// within the session.
	Queries map[int64]QueryDesc `json:"queries"`
}

// Clone returns a deep copy, including the Queries map.
func (s *Session) Clone() *Session {
	out := *s
	if s.Queries != nil {
		out.Queries = make(map[int64]QueryDesc, len(s.Queries))
		for id, q := range s.Queries {
			out.Queries[id] = q
		}
	}
	return &out
}

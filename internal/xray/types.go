// Package xray drives a 3x-ui style panel over its admin HTTP API: client
// CRUD on an inbound, online polling, and vless:// connection strings. The
// panel speaks a fixed envelope and authenticates with a session cookie.
package xray

import "encoding/json"

// response is the envelope every panel endpoint answers with.
type response struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Client is one client record inside an inbound's settings blob. The panel
// wants it JSON-encoded into a string field, not nested.
type Client struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	Flow       string `json:"flow,omitempty"`
	InboundID  int64  `json:"inboundId,omitempty"`
	ExpiryTime int64  `json:"expiryTime,omitempty"`
	SubID      string `json:"subId,omitempty"`
}

// Inbound is the subset of panel/api/inbounds/get this package consumes.
// Settings and StreamSettings arrive as JSON strings and are decoded
// separately.
type Inbound struct {
	ID             int64  `json:"id"`
	Remark         string `json:"remark"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

type streamSettings struct {
	Network  string          `json:"network"`
	Security string          `json:"security"`
	Reality  realitySettings `json:"realitySettings"`
}

type realitySettings struct {
	ServerNames []string `json:"serverNames"`
	ShortIDs    []string `json:"shortIds"`
	Settings    struct {
		PublicKey   string `json:"publicKey"`
		Fingerprint string `json:"fingerprint"`
		SpiderX     string `json:"spiderX"`
	} `json:"settings"`
}
